package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dennisdiepolder/dispatchdesk/internal/dispatch"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Directory is the read side of the record store used by the lookup endpoints
type Directory interface {
	FindMemberByPhone(ctx context.Context, phone string) (*types.Member, error)
	GetAddress(ctx context.Context, addressID string) (*types.Address, error)
	ListAvailableServicemen(ctx context.Context, category string) ([]types.Serviceman, error)
}

// LookupHandler serves the subscriber, address and serviceman lookups
type LookupHandler struct {
	dir    Directory
	logger zerolog.Logger
}

// NewLookupHandler creates a new LookupHandler
func NewLookupHandler(dir Directory, logger zerolog.Logger) *LookupHandler {
	return &LookupHandler{
		dir:    dir,
		logger: logger.With().Str("component", "lookup").Logger(),
	}
}

// LookupMember handles POST /call/memberid/lookup {phoneNumber}
func (h *LookupHandler) LookupMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		writeError(w, h.logger, fmt.Errorf("%w: phoneNumber is required", dispatch.ErrValidation))
		return
	}

	m, err := h.dir.FindMemberByPhone(r.Context(), phone)
	if err != nil {
		writeError(w, h.logger, fmt.Errorf("member for %s: %w", phone, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"member_id":     m.MemberID,
		"customer_name": m.Name,
	})
}

// LookupAddress handles GET /call/address/lookup/{addressId} and
// POST /call/address/lookup {addressId}
func (h *LookupHandler) LookupAddress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "addressId")
	if r.Method == http.MethodPost {
		var req struct {
			AddressID string `json:"addressId"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
		id = req.AddressID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, h.logger, fmt.Errorf("%w: addressId is required", dispatch.ErrValidation))
		return
	}

	addr, err := h.dir.GetAddress(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, fmt.Errorf("address %s: %w", id, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address_line": addr.Line})
}

// AvailableServicemen handles POST /call/servicemen/available {service}
func (h *LookupHandler) AvailableServicemen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Service string `json:"service"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.Service) == "" {
		writeError(w, h.logger, fmt.Errorf("%w: service is required", dispatch.ErrValidation))
		return
	}

	list, err := h.dir.ListAvailableServicemen(r.Context(), req.Service)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []types.Serviceman{}
	}
	writeJSON(w, http.StatusOK, list)
}
