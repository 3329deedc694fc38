package entry

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type RecurrenceDTO struct {
	Frequency       string `json:"frequency"`
	EndDate         string `json:"endDate,omitempty"`
	Active          bool   `json:"active"`
	LastGeneratedAt string `json:"lastGeneratedAt,omitempty"`
}

type EntryDTO struct {
	ID          int64          `json:"id,omitempty"`
	UID         string         `json:"uid,omitempty"`
	Kind        string         `json:"kind"`
	Date        string         `json:"date"`
	Item        string         `json:"item"`
	AmountCents int64          `json:"amountCents"`
	CategoryID  *int64         `json:"categoryId,omitempty"`
	Source      string         `json:"source,omitempty"`
	Description string         `json:"description,omitempty"`
	Recurring   *RecurrenceDTO `json:"recurring,omitempty"`
	ParentID    *int64         `json:"parentId,omitempty"`
}

// CreateEntryResponse reports the saved entry together with the outcome of
// the immediate catch-up run. A generation failure shows up as a warning;
// the save itself succeeded.
type CreateEntryResponse struct {
	Entry             EntryDTO `json:"entry"`
	GeneratedCount    int      `json:"generatedCount"`
	GenerationWarning string   `json:"generationWarning,omitempty"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	log.Debug("Registering new entry")
	w.Header().Set("Content-Type", "application/json")

	var dto EntryDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e, err := dtoToEntry(dto)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, result, err := h.service.Create(r.Context(), e)
	response := CreateEntryResponse{GeneratedCount: result.Generated}
	switch {
	case errors.Is(err, ErrGenerationFailed):
		response.GenerationWarning = err.Error()
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	response.Entry = entryToDTO(created)

	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) GetAll(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	kind, err := ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := h.service.List(r.Context(), kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	dtos := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, entryToDTO(e))
	}
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dtos); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e, err := h.service.Get(r.Context(), id)
	if errors.Is(err, ErrEntryNotFound) {
		http.Error(w, "Entry not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(entryToDTO(e)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var dto EntryDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if dto.ID != 0 && dto.ID != id {
		http.Error(w, "Invalid entry id in request body", http.StatusBadRequest)
		return
	}
	e, err := dtoToEntry(dto)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e.ID = id

	updated, result, err := h.service.Update(r.Context(), e)
	response := CreateEntryResponse{GeneratedCount: result.Generated}
	switch {
	case errors.Is(err, ErrGenerationFailed):
		response.GenerationWarning = err.Error()
	case errors.Is(err, ErrEntryNotFound):
		http.Error(w, "Entry not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	response.Entry = entryToDTO(updated)

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.service.Delete(r.Context(), id)
	if errors.Is(err, ErrEntryNotFound) {
		http.Error(w, "Entry not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CancelRecurrence(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	parent, err := h.service.CancelRecurrence(r.Context(), id)
	switch {
	case errors.Is(err, ErrEntryNotFound):
		http.Error(w, "Entry not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrNotRecurring):
		http.Error(w, "This is not a recurring entry", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(entryToDTO(parent)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func dtoToEntry(dto EntryDTO) (Entry, error) {
	date, err := time.Parse(dateFormat, dto.Date)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		ID:          dto.ID,
		Kind:        Kind(dto.Kind),
		Date:        date,
		Item:        dto.Item,
		AmountCents: dto.AmountCents,
		CategoryID:  dto.CategoryID,
		Source:      dto.Source,
		Description: dto.Description,
	}
	if dto.Recurring != nil {
		rec := &Recurrence{Frequency: Frequency(dto.Recurring.Frequency)}
		if dto.Recurring.EndDate != "" {
			endDate, err := time.Parse(dateFormat, dto.Recurring.EndDate)
			if err != nil {
				return Entry{}, err
			}
			rec.EndDate = endDate
		}
		e.Recurrence = rec
	}
	return e, nil
}

func entryToDTO(e Entry) EntryDTO {
	dto := EntryDTO{
		ID:          e.ID,
		UID:         e.UID,
		Kind:        string(e.Kind),
		Date:        e.Date.Format(dateFormat),
		Item:        e.Item,
		AmountCents: e.AmountCents,
		CategoryID:  e.CategoryID,
		Source:      e.Source,
		Description: e.Description,
		ParentID:    e.ParentID,
	}
	if e.Recurrence != nil {
		rec := &RecurrenceDTO{
			Frequency: string(e.Recurrence.Frequency),
			Active:    e.Recurrence.Active,
		}
		if !e.Recurrence.EndDate.IsZero() {
			rec.EndDate = e.Recurrence.EndDate.Format(dateFormat)
		}
		if !e.Recurrence.LastGeneratedAt.IsZero() {
			rec.LastGeneratedAt = e.Recurrence.LastGeneratedAt.Format(dateFormat)
		}
		dto.Recurring = rec
	}
	return dto
}
