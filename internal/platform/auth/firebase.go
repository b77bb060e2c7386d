package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/hanko-field/checkout/internal/platform/config"
)

const defaultVerifyTimeout = 5 * time.Second

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier verifies Firebase ID tokens with the Admin SDK.
type FirebaseVerifier struct {
	client  idTokenVerifier
	timeout time.Duration
}

// NewFirebaseVerifier initialises the Admin SDK for cfg.ProjectID.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client, timeout: defaultVerifyTimeout}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, raw string) (Claims, error) {
	if v == nil || v.client == nil {
		return Claims{}, errors.New("firebase verifier not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	token, err := v.client.VerifyIDToken(ctx, raw)
	switch {
	case err == nil:
	case firebaseauth.IsIDTokenExpired(err):
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return Claims{
		Subject: token.UID,
		Email:   claimString(token.Claims, "email"),
		Values:  token.Claims,
	}, nil
}
