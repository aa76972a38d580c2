package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"nudge/internal/delivery"
	"nudge/internal/logging"
	"nudge/internal/registry"
)

// maxFieldBytes is the largest plaintext a single RSA-2048 PKCS#1 v1.5 block
// can carry. Longer fields would fail encryption anyway; rejecting them up
// front gives the sender a 400 instead of a 500.
const maxFieldBytes = 245

type registerRequest struct {
	UUID                  string `json:"uuid"`
	Address               string `json:"address"`
	SecondaryAddress      string `json:"secondary_address,omitempty"`
	NotificationPublicKey string `json:"notification_public_key"`
	StatusPublicKey       string `json:"status_public_key"`
}

type notifyRequest struct {
	Recipient          string `json:"recipient"`
	Title              string `json:"title"`
	Body               string `json:"body"`
	PreEncrypted       bool   `json:"pre_encrypted,omitempty"`
	QueueIfOffline     bool   `json:"queue_if_offline,omitempty"`
	CollapseDuplicates bool   `json:"collapse_duplicates,omitempty"`
	Sender             string `json:"sender,omitempty"`
}

type statusResponse struct {
	BrokerConnected bool  `json:"broker_connected"`
	OnlineDevices   int   `json:"online_devices"`
	UptimeSeconds   int64 `json:"uptime_seconds"`
}

type deviceResponse struct {
	UUID             string     `json:"uuid"`
	Address          string     `json:"address"`
	SecondaryAddress string     `json:"secondary_address,omitempty"`
	LastSeenOnline   *time.Time `json:"last_seen_online,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

type snapshotResponse struct {
	BrokerConnected bool      `json:"broker_connected"`
	OnlineDevices   int       `json:"online_devices"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	CheckedAt       time.Time `json:"checked_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UUID == "" || req.Address == "" || req.NotificationPublicKey == "" || req.StatusPublicKey == "" {
		writeError(w, http.StatusBadRequest, "uuid, address, notification_public_key and status_public_key are required")
		return
	}
	if s.validateKey != nil {
		if err := s.validateKey(req.NotificationPublicKey); err != nil {
			writeError(w, http.StatusBadRequest, "notification_public_key is not a valid public key")
			return
		}
		if err := s.validateKey(req.StatusPublicKey); err != nil {
			writeError(w, http.StatusBadRequest, "status_public_key is not a valid public key")
			return
		}
	}

	err := s.registry.Register(r.Context(), registry.Device{
		UUID:                  req.UUID,
		Address:               req.Address,
		SecondaryAddress:      req.SecondaryAddress,
		NotificationPublicKey: req.NotificationPublicKey,
		StatusPublicKey:       req.StatusPublicKey,
	})
	switch {
	case errors.Is(err, registry.ErrConflict):
		writeError(w, http.StatusConflict, "uuid or address already registered")
	case err != nil:
		s.logger.Error("device registration failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "registration failed")
	default:
		s.logger.Info("device registered",
			logging.FieldDeviceID, req.UUID,
			logging.FieldRecipient, req.Address)
		writeJSON(w, http.StatusCreated, map[string]string{"uuid": req.UUID})
	}
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Recipient == "" || req.Title == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "recipient, title and body are required")
		return
	}
	if !req.PreEncrypted && (len(req.Title) > maxFieldBytes || len(req.Body) > maxFieldBytes) {
		writeError(w, http.StatusBadRequest, "title and body must each be at most 245 bytes")
		return
	}

	result := s.sender.Send(r.Context(), delivery.Request{
		Recipient:          req.Recipient,
		Title:              req.Title,
		Body:               req.Body,
		PreEncrypted:       req.PreEncrypted,
		QueueIfOffline:     req.QueueIfOffline,
		CollapseDuplicates: req.CollapseDuplicates,
		Sender:             req.Sender,
	})
	writeJSON(w, result.Code, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		BrokerConnected: s.presence.IsConnected(),
		OnlineDevices:   s.presence.OnlineCount(),
		UptimeSeconds:   int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.registry.RecentSnapshots(r.Context(), s.historyLimit)
	if err != nil {
		s.logger.Error("snapshot history query failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	out := make([]snapshotResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snapshotResponse{
			BrokerConnected: snap.BrokerConnected,
			OnlineDevices:   snap.OnlineDevices,
			UptimeSeconds:   snap.UptimeSeconds,
			CheckedAt:       snap.CheckedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("device list query failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "device list unavailable")
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceResponse{
			UUID:             d.UUID,
			Address:          d.Address,
			SecondaryAddress: d.SecondaryAddress,
			LastSeenOnline:   d.LastSeenOnline,
			CreatedAt:        d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
