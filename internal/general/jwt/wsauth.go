package jwt

import (
	"encoding/json"
	"errors"
	"strings"

	"fleet-tracker/internal/domain/user"
)

var (
	ErrBadAuthMsg   = errors.New("invalid auth message")
	ErrBadTokenWrap = errors.New("token must be 'Bearer <token>'")
)

// ClientAuthMessage is the first frame on every authenticated socket:
// { "type":"auth", "token":"Bearer <jwt>" }
type ClientAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// AuthFrame wraps a raw token into the first frame a client must send.
func AuthFrame(token string) ClientAuthMessage {
	return ClientAuthMessage{Type: "auth", Token: "Bearer " + strings.TrimSpace(token)}
}

type Result struct {
	Claims *Claims
	Raw    string
}

// ValidateWSAuth parses the first auth frame, validates the JWT and enforces allowedRoles.
func ValidateWSAuth(frame []byte, mgr *Manager, allowedRoles ...user.Role) (*Result, error) {
	var msg ClientAuthMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, ErrBadAuthMsg
	}
	if strings.ToLower(strings.TrimSpace(msg.Type)) != "auth" {
		return nil, ErrBadAuthMsg
	}

	scheme, raw, ok := strings.Cut(strings.TrimSpace(msg.Token), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, ErrBadTokenWrap
	}
	raw = strings.TrimSpace(raw)

	claims, err := mgr.ParseAndValidate(raw)
	if err != nil {
		return nil, err
	}
	if err := RoleAllowed(claims, allowedRoles...); err != nil {
		return nil, err
	}
	return &Result{Claims: claims, Raw: raw}, nil
}
