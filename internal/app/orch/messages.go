package orch

import "github.com/dkeye/PetCam/internal/domain"

type wireError struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

func newWireError(err error) *wireError {
	return &wireError{Code: domain.CodeOf(err), Message: domain.PublicMessage(err)}
}

type exclusiveStatus struct {
	Type    string `json:"type"`
	Blocked bool   `json:"blocked"`
}

type audioStatus struct {
	Type           string     `json:"type"`
	Listening      bool       `json:"listening"`
	Talking        bool       `json:"talking"`
	TalkingClients int        `json:"talking_clients"`
	Error          *wireError `json:"error,omitempty"`
}

type videoStatus struct {
	Type           string `json:"type"`
	Sending        bool   `json:"sending"`
	DisplayClients int    `json:"display_clients"`
}

type videoError struct {
	Type    string      `json:"type"`
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}
