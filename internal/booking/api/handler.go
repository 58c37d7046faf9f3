package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bkoda/internal/booking"
	"bkoda/internal/logger"
	"bkoda/internal/models"
	"bkoda/internal/utils"
)

type Handler struct {
	Service       *booking.Service
	WebhookSecret string
	Logger        *logger.Logger
}

func NewHandler(service *booking.Service, webhookSecret string, log *logger.Logger) *Handler {
	return &Handler{
		Service:       service,
		WebhookSecret: webhookSecret,
		Logger:        log,
	}
}

// Routes mounts every booking endpoint on a fresh chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/trips", h.SearchTrips)
	r.Get("/trips/{tripId}", h.GetTrip)

	r.Post("/bookings", h.CreateBooking)
	r.Get("/bookings/{bookingId}", h.GetBooking)
	r.Get("/users/{userId}/bookings", h.ListUserBookings)

	r.Post("/bookings/{bookingId}/payment-intent", h.CreatePaymentIntent)
	r.Post("/bookings/{bookingId}/offline-payment", h.ChooseOfflinePayment)
	r.Post("/bookings/{bookingId}/offline-payment/confirm", h.ConfirmOfflinePayment)

	r.Post("/bookings/{bookingId}/cancel", h.CancelBooking)
	r.Get("/bookings/{bookingId}/reschedule-quote", h.RescheduleQuote)
	r.Post("/bookings/{bookingId}/reschedule-intent", h.CreateRescheduleIntent)
	r.Post("/bookings/{bookingId}/reschedule", h.RescheduleBooking)

	r.Post("/webhook/stripe", h.StripeWebhook)

	return r
}

func (h *Handler) SearchTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	origin := q.Get("origin")
	destination := q.Get("destination")
	h.Logger.Info("API", fmt.Sprintf("SearchTrips: %s -> %s on %s", origin, destination, q.Get("date")))

	var date time.Time
	if raw := q.Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.writeError(w, "Invalid date, expected YYYY-MM-DD", err, http.StatusBadRequest)
			return
		}
		date = parsed
	}

	trips, err := h.Service.SearchTrips(r.Context(), origin, destination, date)
	if err != nil {
		h.serviceError(w, "SearchTrips", err)
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("trips retrieved", trips))
}

func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripId")
	trip, err := h.Service.GetTrip(r.Context(), tripID)
	if err != nil {
		h.serviceError(w, "GetTrip", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("trip retrieved", trip))
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err, http.StatusBadRequest)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CreateBooking: trip=%s passengers=%d", req.TripID, len(req.Passengers)))

	b, err := h.Service.CreateBooking(r.Context(), req)
	if err != nil {
		h.serviceError(w, "CreateBooking", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("booking created", models.BookingResponse{
		BookingID:        b.BookingID,
		BookingReference: b.BookingReference,
		TripID:           b.TripID,
		Status:           b.Status,
		PaymentStatus:    b.PaymentStatus,
		TotalPrice:       b.TotalPrice,
	}))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")
	detail, err := h.Service.GetBookingDetail(r.Context(), bookingID)
	if err != nil {
		h.serviceError(w, "GetBooking", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("booking retrieved", detail))
}

func (h *Handler) ListUserBookings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		h.writeError(w, "User ID is required", nil, http.StatusBadRequest)
		return
	}

	bookings, err := h.Service.ListUserBookings(r.Context(), userID)
	if err != nil {
		h.serviceError(w, "ListUserBookings", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("bookings retrieved", bookings))
}

func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")
	h.Logger.Info("API", fmt.Sprintf("CreatePaymentIntent: bookingId=%s", bookingID))

	intent, err := h.Service.CreatePaymentIntent(r.Context(), bookingID)
	if err != nil {
		h.serviceError(w, "CreatePaymentIntent", err)
		return
	}

	response := struct {
		ClientSecret    string `json:"clientSecret"`
		PaymentIntentID string `json:"paymentIntentId"`
	}{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("payment intent ready", response))
}

func (h *Handler) ChooseOfflinePayment(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")

	var req struct {
		Method models.PaymentMethod `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err, http.StatusBadRequest)
		return
	}

	if err := h.Service.ChooseOfflinePayment(r.Context(), bookingID, req.Method); err != nil {
		h.serviceError(w, "ChooseOfflinePayment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("offline payment method recorded", nil))
}

func (h *Handler) ConfirmOfflinePayment(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")
	if err := h.Service.ConfirmOfflinePayment(r.Context(), bookingID); err != nil {
		h.serviceError(w, "ConfirmOfflinePayment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("payment recorded, booking confirmed", nil))
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")
	h.Logger.Info("API", fmt.Sprintf("CancelBooking: bookingId=%s", bookingID))

	quote, err := h.Service.Cancel(r.Context(), bookingID)
	if err != nil && quote == nil {
		h.serviceError(w, "CancelBooking", err)
		return
	}

	// A gateway failure after the cancellation committed still cancels the
	// booking; the refund is flagged for retry.
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CancelBooking: booking canceled but refund failed: %v", err))
		h.writeJSON(w, http.StatusAccepted, utils.ErrorResponse("booking canceled, refund failed and will be retried", err.Error()))
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("booking canceled", quote))
}

func (h *Handler) RescheduleQuote(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")
	newTripID := r.URL.Query().Get("new_trip_id")
	if newTripID == "" {
		h.writeError(w, "new_trip_id is required", nil, http.StatusBadRequest)
		return
	}

	quote, err := h.Service.QuoteReschedule(r.Context(), bookingID, newTripID)
	if err != nil {
		h.serviceError(w, "RescheduleQuote", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("reschedule quote", quote))
}

func (h *Handler) CreateRescheduleIntent(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")

	var req struct {
		NewTripID string `json:"new_trip_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err, http.StatusBadRequest)
		return
	}
	if req.NewTripID == "" {
		h.writeError(w, "new_trip_id is required", nil, http.StatusBadRequest)
		return
	}

	intent, err := h.Service.CreateRescheduleIntent(r.Context(), bookingID, req.NewTripID)
	if err != nil {
		h.serviceError(w, "CreateRescheduleIntent", err)
		return
	}

	response := struct {
		ClientSecret    string `json:"clientSecret"`
		PaymentIntentID string `json:"paymentIntentId"`
	}{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("reschedule payment intent ready", response))
}

func (h *Handler) RescheduleBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")

	var req booking.RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err, http.StatusBadRequest)
		return
	}
	req.BookingID = bookingID
	h.Logger.Info("API", fmt.Sprintf("RescheduleBooking: bookingId=%s newTrip=%s", bookingID, req.NewTripID))

	successor, err := h.Service.Reschedule(r.Context(), req)
	if err != nil {
		h.serviceError(w, "RescheduleBooking", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("booking rescheduled", models.BookingResponse{
		BookingID:        successor.BookingID,
		BookingReference: successor.BookingReference,
		TripID:           successor.TripID,
		Status:           successor.Status,
		PaymentStatus:    successor.PaymentStatus,
		TotalPrice:       successor.TotalPrice,
	}))
}

func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("API", "StripeWebhook: received webhook event")

	err := h.Service.HandleStripeWebhook(r, h.WebhookSecret)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: failed to process webhook: %v", err))

		var webhookErr *booking.WebhookError
		if errors.As(err, &webhookErr) {
			http.Error(w, webhookErr.PublicError, webhookErr.StatusCode)
			return
		}
		http.Error(w, "Webhook processing error", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// serviceError maps service sentinels onto HTTP status codes.
func (h *Handler) serviceError(w http.ResponseWriter, op string, err error) {
	h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, booking.ErrTripNotFound), errors.Is(err, booking.ErrBookingNotFound):
		status = http.StatusNotFound
	case errors.Is(err, booking.ErrInsufficientSeats), errors.Is(err, booking.ErrIneligibleForAction):
		status = http.StatusConflict
	case errors.Is(err, booking.ErrPaymentMismatch):
		status = http.StatusConflict
	case errors.Is(err, booking.ErrTripLocked), errors.Is(err, booking.ErrPaymentProcessing):
		status = http.StatusServiceUnavailable
	case errors.Is(err, booking.ErrPaymentGateway):
		status = http.StatusBadGateway
	}

	h.writeJSON(w, status, utils.ErrorResponse(http.StatusText(status), err.Error()))
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error, status int) {
	detail := ""
	if err != nil {
		detail = err.Error()
		h.Logger.Error("API", fmt.Sprintf("%s: %v", message, err))
	} else {
		h.Logger.Error("API", message)
	}
	h.writeJSON(w, status, utils.ErrorResponse(message, detail))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}
