// Package model contains the plain structs shared across packages. Values in
// this package are always plaintext; ciphertext only exists inside the
// catalog's persistence adapters.
package model

import (
	"time"
)

// Artifact is the catalog entry for one uploaded file. Struct tags such as
// `json:"id"` control the field names used by the activity listing.
type Artifact struct {
	ID          string `json:"id"`
	DisplayName string `json:"file_name"`
	// StorageLocator never leaves the server; the "-" tag drops it from JSON.
	StorageLocator string `json:"-"`
	// PasswordHash is a bcrypt hash. It is compared, never decrypted.
	PasswordHash  string    `json:"-"`
	IsEncrypted   bool      `json:"is_encrypted"`
	Size          int64     `json:"size"`
	ContentType   string    `json:"content_type"`
	CreatedAt     time.Time `json:"upload_date"`
	DownloadCount int64     `json:"download_count"`
}

// TokenKind names the purpose a signed token was issued for.
type TokenKind string

const (
	TokenAccess   TokenKind = "access"
	TokenRefresh  TokenKind = "refresh"
	TokenDownload TokenKind = "download"
)

// TokenPair is handed to administrators after login or refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Grant is the result of a successful password check: a short-lived token
// scoped to one artifact.
type Grant struct {
	ArtifactID string    `json:"id"`
	Token      string    `json:"token"`
	FileName   string    `json:"filename"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ReconcileReport summarises a scan of the backing store against the catalog.
type ReconcileReport struct {
	// Orphans are store locators that no catalog row references.
	Orphans []string `json:"orphans"`
	// Dangling are catalog ids whose backing object is missing.
	Dangling []string `json:"dangling"`
	// Unreadable are catalog ids whose metadata failed to decrypt.
	Unreadable []string `json:"unreadable"`
	// Recataloged maps orphan locators to the ids created for them.
	Recataloged map[string]string `json:"recataloged,omitempty"`
	// Deferred are orphans too recent to adopt in this run.
	Deferred  []string  `json:"deferred,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
}
