package api

import (
	"net/http"
	"strings"

	"pharmanear/m/domain"
)

type stockResponse struct {
	Message string             `json:"message"`
	Stock   domain.StockLedger `json:"stock"`
}

type upsertStockRequest struct {
	PharmacyID   string  `json:"pharmacy_id"`
	MedicineName string  `json:"medicine_name"`
	Quantity     int64   `json:"quantity"`
	Price        float64 `json:"price"`
	Strength     string  `json:"strength"`
}

func (h *Handler) addStock(w http.ResponseWriter, r *http.Request) {
	var req upsertStockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !requireOwner(w, r, req.PharmacyID) {
		return
	}
	ledger, err := h.stock.UpsertLine(r.Context(), req.PharmacyID, req.MedicineName, req.Quantity, req.Price, req.Strength)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stockResponse{Message: "Stock updated successfully", Stock: ledger})
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	pharmacyID := strings.TrimSpace(r.URL.Query().Get("pharmacy_id"))
	if pharmacyID == "" {
		pharmacyID = sessionFrom(r.Context()).PharmacyID
	}
	if !requireOwner(w, r, pharmacyID) {
		return
	}
	view, err := h.stock.GetLedger(r.Context(), pharmacyID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type correctStockRequest struct {
	PharmacyID   string  `json:"pharmacy_id"`
	MedicineName string  `json:"medicine_name"`
	Quantity     int64   `json:"quantity"`
	Price        float64 `json:"price"`
}

func (h *Handler) correctStock(w http.ResponseWriter, r *http.Request) {
	var req correctStockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !requireOwner(w, r, req.PharmacyID) {
		return
	}
	ledger, err := h.stock.CorrectLine(r.Context(), req.PharmacyID, req.MedicineName, req.Quantity, req.Price)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stockResponse{Message: "Stock updated successfully", Stock: ledger})
}

type removeStockRequest struct {
	PharmacyID   string `json:"pharmacy_id"`
	MedicineName string `json:"medicine_name"`
}

func (h *Handler) removeStock(w http.ResponseWriter, r *http.Request) {
	var req removeStockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !requireOwner(w, r, req.PharmacyID) {
		return
	}
	ledger, err := h.stock.RemoveLine(r.Context(), req.PharmacyID, req.MedicineName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stockResponse{Message: "Medication removed successfully", Stock: ledger})
}

func (h *Handler) findDrug(w http.ResponseWriter, r *http.Request) {
	res, err := h.availability.FindStockists(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
