package api

import (
	"net/http"
	"strings"

	"pharmanear/m/domain"
	"pharmanear/m/internal/pharmacies"
)

type authResponse struct {
	Message  string          `json:"message"`
	Token    string          `json:"token"`
	Pharmacy domain.Pharmacy `json:"pharmacy"`
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req pharmacies.Registration
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.pharmacies.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, authResponse{
		Message:  "Pharmacy registered successfully",
		Token:    res.Token,
		Pharmacy: res.Pharmacy,
	})
}

type loginRequest struct {
	UserName string `json:"user_name"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.pharmacies.Authenticate(r.Context(), req.UserName, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, authResponse{
		Message:  "Pharmacy logged in successfully",
		Token:    res.Token,
		Pharmacy: res.Pharmacy,
	})
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	handle := strings.TrimSpace(r.URL.Query().Get("user_name"))
	p, err := h.pharmacies.GetProfile(r.Context(), sessionFrom(r.Context()), handle)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) getDetails(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("pharmacy_id"))
	p, err := h.pharmacies.GetPublicProfile(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type profileUpdateRequest struct {
	UserName      string   `json:"user_name"`
	NewUserName   string   `json:"new_user_name"`
	LicenseNumber *string  `json:"license_number"`
	Address       *string  `json:"address"`
	City          *string  `json:"city"`
	State         *string  `json:"state"`
	Pincode       *string  `json:"pincode"`
	OpeningHours  *string  `json:"opening_hours"`
	ClosingHours  *string  `json:"closing_hours"`
	ContactNumber *string  `json:"contact_number"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	LocationURL   *string  `json:"location_url"`
}

type profileUpdateResponse struct {
	Message            string          `json:"message"`
	Pharmacy           domain.Pharmacy `json:"pharmacy"`
	SessionInvalidated bool            `json:"session_invalidated"`
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileUpdateRequest
	if err := decodeLenient(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	changes := pharmacies.ProfileChanges{
		LicenseNumber: req.LicenseNumber,
		Address:       req.Address,
		City:          req.City,
		State:         req.State,
		Pincode:       req.Pincode,
		OpeningHours:  req.OpeningHours,
		ClosingHours:  req.ClosingHours,
		ContactNumber: req.ContactNumber,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		LocationURL:   req.LocationURL,
	}
	res, err := h.pharmacies.UpdateProfile(r.Context(), sessionFrom(r.Context()), strings.TrimSpace(req.UserName), changes, strings.TrimSpace(req.NewUserName))
	if err != nil {
		writeError(w, r, err)
		return
	}

	msg := "Profile updated"
	if res.SessionInvalidated {
		msg = "Profile updated, please log in again with the new user name"
	}
	respondJSON(w, http.StatusOK, profileUpdateResponse{
		Message:            msg,
		Pharmacy:           res.Pharmacy,
		SessionInvalidated: res.SessionInvalidated,
	})
}
