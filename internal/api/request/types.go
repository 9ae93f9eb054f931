// Package request holds the JSON bodies accepted by the API
package request

// SignInRequest is the body for exchanging the asserted identity for a session
type SignInRequest struct {
	DisplayName string `json:"display_name,omitempty"`
}

// EnterRequest is the body for entering the arena
type EnterRequest struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
	ShipID string `json:"ship_id"`
}

// JoinRequest is the body for taking a seat in a specific race
type JoinRequest struct {
	ShipID string `json:"ship_id"`
}

// KeystrokesRequest carries one or more keystrokes. Each character of Keys
// is scored in order.
type KeystrokesRequest struct {
	Keys string `json:"keys"`
}

// AddAdminRequest is the body for granting the admin role
type AddAdminRequest struct {
	Email string `json:"email"`
}

// IssueTokenRequest is the body for creating an entry token. An empty
// token asks the server to generate one.
type IssueTokenRequest struct {
	UserID string `json:"user_id"`
	Token  string `json:"token,omitempty"`
}
