// README: Firebase Admin SDK initialisation, ID token verification and role claims.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// Caller is the identity extracted from a verified ID token. Role comes from the
// "role" custom claim; tokens without one are treated as plain customers.
type Caller struct {
	UID  string
	Role string
}

// TokenVerifier verifies a raw ID token string and returns the caller identity.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Caller, error)
}

// FirebaseAuth verifies ID tokens and maintains the "role" custom claim.
type FirebaseAuth struct {
	client *auth.Client
}

// NewFirebaseAuth creates a client for the Firebase Admin SDK.
// If credentialsFile is empty application-default credentials are used.
func NewFirebaseAuth(ctx context.Context, projectID, credentialsFile string) (*FirebaseAuth, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &FirebaseAuth{client: client}, nil
}

func (f *FirebaseAuth) VerifyIDToken(ctx context.Context, idToken string) (*Caller, error) {
	token, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &Caller{UID: token.UID, Role: RoleFromClaims(token.Claims)}, nil
}

// SetRole writes the role custom claim, keeping any other custom claims.
// Tokens minted before the change keep the old role until refreshed.
func (f *FirebaseAuth) SetRole(ctx context.Context, uid, role string) error {
	user, err := f.client.GetUser(ctx, uid)
	if err != nil {
		return fmt.Errorf("firebase get user %s: %w", uid, err)
	}
	if err := f.client.SetCustomUserClaims(ctx, uid, ClaimsWithRole(user.CustomClaims, role)); err != nil {
		return fmt.Errorf("firebase set claims %s: %w", uid, err)
	}
	return nil
}

// ClaimsWithRole copies claims and sets role on the copy.
func ClaimsWithRole(claims map[string]interface{}, role string) map[string]interface{} {
	out := make(map[string]interface{}, len(claims)+1)
	for k, v := range claims {
		out[k] = v
	}
	out["role"] = role
	return out
}

func RoleFromClaims(claims map[string]interface{}) string {
	if r, ok := claims["role"].(string); ok {
		switch r {
		case "driver", "admin", "user":
			return r
		}
	}
	return "user"
}
