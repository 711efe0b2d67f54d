package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-dispatch/api/middleware"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
)

const orderIDParam = "orderId"

func callerID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(middleware.UserIDFromContext(r.Context()))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid caller identity")
	}
	return id, nil
}

func callerAgentID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(middleware.AgentIDFromContext(r.Context()))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "delivery agent identity required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid agent identity")
	}
	return id, nil
}
