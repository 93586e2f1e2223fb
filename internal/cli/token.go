package cli

import (
	"fmt"
	"time"

	"fleet-tracker/internal/domain/user"
	"fleet-tracker/internal/general/jwt"
)

// GenerateToken mints a JWT for subject with the given role.
//
// Typical use (dev-only):
//
//	token, _, err := cli.GenerateToken(secret, "map-1", "VIEWER", 2*time.Hour)
//
// Keep this package dev/internal only. Do not call it from production code paths.
func GenerateToken(secret, subject, roleStr string, ttl time.Duration) (string, jwt.Claims, error) {
	// parse and validate the role
	role, err := user.ParseRole(roleStr)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("invalid role %q: %w", roleStr, err)
	}

	mgr, err := jwt.NewManager(secret, ttl)
	if err != nil {
		return "", jwt.Claims{}, err
	}

	token, claims, err := mgr.IssueToken(subject, role)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("issue token: %w", err)
	}

	return token, *claims, nil
}

// PrintToken writes the token and its main claims in a human-readable form.
func PrintToken(token string, claims jwt.Claims) {
	fmt.Println("TOKEN:")
	fmt.Println(token)
	fmt.Println("\nCLAIMS:")
	fmt.Printf("  sub:  %s\n", claims.Subject)
	fmt.Printf("  role: %s\n", claims.Role)
	fmt.Printf("  iat:  %s\n", claims.IssuedAt.Time.UTC().Format(time.RFC3339))
	fmt.Printf("  exp:  %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
}
