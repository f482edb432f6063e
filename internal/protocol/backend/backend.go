// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package backend splits the two realtime-service variants spec.md §9
// calls out as "near-duplicate event handlers for two backends" behind
// one Backend contract: a single Event taxonomy (internal/protocol) with
// a backend-specific URL/auth builder and commit-sequence plugged in,
// per §4.6/§9's suggested cleaner design.
package backend

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/rapidaai/voicecore/internal/protocol"
)

// Kind selects which realtime-service variant a Config targets (§6/§9:
// "Manual backend / Auto backend").
type Kind string

const (
	Manual Kind = "manual"
	Auto   Kind = "auto"
)

// Endpoint is the connection-time Config this package consumes: spec.md
// §6's URL and auth fields plus the deployment/bot identifiers each
// variant's URL template needs.
type Endpoint struct {
	Host       string
	Path       string // auto backend: wss://<host>/<path>
	APIVersion string // manual backend: ?api-version=<ver>&deployment=<name>
	Deployment string

	APIKey string // sent as "api-key: <value>" when set
	Token  string // sent as "Authorization: Bearer <token>" when set
}

// Backend builds the connection URL/headers and the commit sequence for
// one realtime-service variant.
type Backend interface {
	Kind() Kind
	// DialTarget returns the WebSocket URL and request headers to dial.
	DialTarget(ep Endpoint) (string, http.Header, error)
	// CommitMessages returns, in send order, the control messages that
	// close the input audio buffer: manual sends commit, auto sends
	// complete (§4.6). response.create is never bundled here — the
	// Session State Machine sends it as a separate, explicit step only
	// for the manual backend (§4.8: "if backend is manual also
	// client.create_response"); auto instead relies on the service to
	// trigger a response from complete alone (GLOSSARY).
	CommitMessages() ([][]byte, error)
}

// New constructs the Backend for kind.
func New(kind Kind) (Backend, error) {
	switch kind {
	case Manual:
		return manualBackend{}, nil
	case Auto:
		return autoBackend{}, nil
	default:
		return nil, fmt.Errorf("backend: unknown kind %q", kind)
	}
}

func authHeaders(ep Endpoint) http.Header {
	h := http.Header{}
	if ep.APIKey != "" {
		h.Set("api-key", ep.APIKey)
	}
	if ep.Token != "" {
		h.Set("Authorization", "Bearer "+ep.Token)
	}
	return h
}

type manualBackend struct{}

func (manualBackend) Kind() Kind { return Manual }

func (manualBackend) DialTarget(ep Endpoint) (string, http.Header, error) {
	u := url.URL{Scheme: "wss", Host: ep.Host, Path: "/"}
	q := u.Query()
	if ep.APIVersion != "" {
		q.Set("api-version", ep.APIVersion)
	}
	if ep.Deployment != "" {
		q.Set("deployment", ep.Deployment)
	}
	u.RawQuery = q.Encode()
	return u.String(), authHeaders(ep), nil
}

func (manualBackend) CommitMessages() ([][]byte, error) {
	commit, err := protocol.BuildInputAudioCommit()
	if err != nil {
		return nil, err
	}
	return [][]byte{commit}, nil
}

type autoBackend struct{}

func (autoBackend) Kind() Kind { return Auto }

func (autoBackend) DialTarget(ep Endpoint) (string, http.Header, error) {
	u := url.URL{Scheme: "wss", Host: ep.Host, Path: ep.Path}
	return u.String(), authHeaders(ep), nil
}

func (autoBackend) CommitMessages() ([][]byte, error) {
	complete, err := protocol.BuildInputAudioComplete()
	if err != nil {
		return nil, err
	}
	return [][]byte{complete}, nil
}
