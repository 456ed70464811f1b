// Package cognito adapts an AWS Cognito user pool to identity.Provider.
package cognito

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"golang.org/x/oauth2"

	"todoapp/internal/credentials"
	"todoapp/internal/identity"
)

// API is the subset of the user pool client the provider calls.
type API interface {
	SignUp(ctx context.Context, params *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	ConfirmSignUp(ctx context.Context, params *cip.ConfirmSignUpInput, optFns ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error)
	ResendConfirmationCode(ctx context.Context, params *cip.ResendConfirmationCodeInput, optFns ...func(*cip.Options)) (*cip.ResendConfirmationCodeOutput, error)
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	GlobalSignOut(ctx context.Context, params *cip.GlobalSignOutInput, optFns ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error)
	ForgotPassword(ctx context.Context, params *cip.ForgotPasswordInput, optFns ...func(*cip.Options)) (*cip.ForgotPasswordOutput, error)
	ConfirmForgotPassword(ctx context.Context, params *cip.ConfirmForgotPasswordInput, optFns ...func(*cip.Options)) (*cip.ConfirmForgotPasswordOutput, error)
	GetUser(ctx context.Context, params *cip.GetUserInput, optFns ...func(*cip.Options)) (*cip.GetUserOutput, error)
}

// Config identifies the user pool app client.
type Config struct {
	Region       string
	UserPoolID   string
	ClientID     string
	ClientSecret string
}

// Issuer is the OIDC issuer URL of the user pool.
func (c Config) Issuer() string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// Provider implements identity.Provider against a Cognito user pool.
type Provider struct {
	api      API
	cfg      Config
	creds    credentials.Store
	verifier Verifier
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides time.Now for token expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProvider creates a Provider. verifier checks id tokens issued by the pool.
func NewProvider(api API, cfg Config, creds credentials.Store, verifier Verifier, opts ...Option) *Provider {
	p := &Provider{
		api:      api,
		cfg:      cfg,
		creds:    creds,
		verifier: verifier,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignUp registers an account whose username is its email.
func (p *Provider) SignUp(ctx context.Context, input identity.SignUpInput) (identity.SignUpResult, error) {
	email := normalizeEmail(input.Email)
	out, err := p.api.SignUp(ctx, &cip.SignUpInput{
		ClientId:   aws.String(p.cfg.ClientID),
		Username:   aws.String(email),
		Password:   aws.String(input.Password),
		SecretHash: p.secretHash(email),
		UserAttributes: []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
		},
	})
	if err != nil {
		return identity.SignUpResult{}, mapError(err)
	}

	result := identity.SignUpResult{
		Complete: out.UserConfirmed,
		UserID:   aws.ToString(out.UserSub),
		NextStep: identity.StepDone,
		Delivery: delivery(out.CodeDeliveryDetails),
	}
	if !out.UserConfirmed {
		result.NextStep = identity.StepConfirmSignUp
	}
	return result, nil
}

// ConfirmSignUp submits the emailed confirmation code.
func (p *Provider) ConfirmSignUp(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)
	_, err := p.api.ConfirmSignUp(ctx, &cip.ConfirmSignUpInput{
		ClientId:         aws.String(p.cfg.ClientID),
		Username:         aws.String(email),
		ConfirmationCode: aws.String(strings.TrimSpace(code)),
		SecretHash:       p.secretHash(email),
	})
	return mapError(err)
}

// ResendConfirmationCode asks the pool to send another confirmation code.
func (p *Provider) ResendConfirmationCode(ctx context.Context, email string) (identity.CodeDelivery, error) {
	email = normalizeEmail(email)
	out, err := p.api.ResendConfirmationCode(ctx, &cip.ResendConfirmationCodeInput{
		ClientId:   aws.String(p.cfg.ClientID),
		Username:   aws.String(email),
		SecretHash: p.secretHash(email),
	})
	if err != nil {
		return identity.CodeDelivery{}, mapError(err)
	}
	return delivery(out.CodeDeliveryDetails), nil
}

// SignIn runs the USER_PASSWORD_AUTH flow and stores the issued tokens.
func (p *Provider) SignIn(ctx context.Context, email, password string) (identity.SignInResult, error) {
	email = normalizeEmail(email)
	params := map[string]string{
		"USERNAME": email,
		"PASSWORD": password,
	}
	if hash := p.secretHash(email); hash != nil {
		params["SECRET_HASH"] = *hash
	}

	out, err := p.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(p.cfg.ClientID),
		AuthParameters: params,
	})
	if err != nil {
		err = mapError(err)
		if errors.Is(err, identity.ErrUserNotConfirmed) {
			return identity.SignInResult{SignedIn: false, NextStep: identity.StepConfirmSignUp}, nil
		}
		return identity.SignInResult{}, err
	}
	if out.AuthenticationResult == nil {
		return identity.SignInResult{}, identity.NewError(string(out.ChallengeName), identity.ErrNotAuthorized, "unsupported sign-in challenge")
	}

	cred := p.credential(out.AuthenticationResult, email, "")
	// Refresh must hash the pool username, which differs from the email in
	// pools that sign in by email alias.
	if claims, err := p.verifier.Verify(ctx, cred.IDToken); err != nil {
		p.logger.Debug("cognito id token not verified at sign in", "error", err)
	} else if name := poolUsername(claims); name != "" {
		cred.Username = name
	}
	if err := p.creds.Save(cred); err != nil {
		return identity.SignInResult{}, fmt.Errorf("save credential: %w", err)
	}
	p.logger.Debug("cognito sign in complete", "expires_at", cred.Token.Expiry)
	return identity.SignInResult{SignedIn: true, NextStep: identity.StepDone}, nil
}

// SignOut revokes every token of the user and forgets the local credential.
func (p *Provider) SignOut(ctx context.Context) error {
	cred, err := p.creds.Load()
	if err != nil {
		return errors.Join(fmt.Errorf("load credential: %w", err), p.creds.Clear())
	}

	var remoteErr error
	if cred != nil && cred.Valid() {
		_, remoteErr = p.api.GlobalSignOut(ctx, &cip.GlobalSignOutInput{
			AccessToken: aws.String(cred.Token.AccessToken),
		})
		remoteErr = mapError(remoteErr)
	}
	return errors.Join(remoteErr, p.creds.Clear())
}

// RequestPasswordReset sends a reset code to the account email.
func (p *Provider) RequestPasswordReset(ctx context.Context, email string) (identity.ResetResult, error) {
	email = normalizeEmail(email)
	out, err := p.api.ForgotPassword(ctx, &cip.ForgotPasswordInput{
		ClientId:   aws.String(p.cfg.ClientID),
		Username:   aws.String(email),
		SecretHash: p.secretHash(email),
	})
	if err != nil {
		return identity.ResetResult{}, mapError(err)
	}
	return identity.ResetResult{
		NextStep: identity.StepConfirmResetPassword,
		Delivery: delivery(out.CodeDeliveryDetails),
	}, nil
}

// ConfirmPasswordReset sets a new password with the emailed reset code.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	email = normalizeEmail(email)
	_, err := p.api.ConfirmForgotPassword(ctx, &cip.ConfirmForgotPasswordInput{
		ClientId:         aws.String(p.cfg.ClientID),
		Username:         aws.String(email),
		ConfirmationCode: aws.String(strings.TrimSpace(code)),
		Password:         aws.String(newPassword),
		SecretHash:       p.secretHash(email),
	})
	return mapError(err)
}

// GetCurrentIdentity verifies the stored id token, refreshing the tokens
// first when they have expired.
func (p *Provider) GetCurrentIdentity(ctx context.Context) (identity.Identity, error) {
	cred, err := p.currentCredential(ctx)
	if err != nil {
		return identity.Identity{}, err
	}

	claims, err := p.verifier.Verify(ctx, cred.IDToken)
	if err != nil {
		return identity.Identity{}, identity.NewError("InvalidIdToken", identity.ErrNoCredential, err.Error())
	}

	username := claims.Username
	if username == "" {
		username = cred.Username
	}
	return identity.Identity{
		UserID:        claims.Subject,
		Username:      username,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}

// GetUserAttributes reads the user's attributes from the pool.
func (p *Provider) GetUserAttributes(ctx context.Context) (identity.Attributes, error) {
	cred, err := p.currentCredential(ctx)
	if err != nil {
		return identity.Attributes{}, err
	}

	out, err := p.api.GetUser(ctx, &cip.GetUserInput{AccessToken: aws.String(cred.Token.AccessToken)})
	if err != nil {
		return identity.Attributes{}, mapError(err)
	}

	attrs := identity.Attributes{Extra: make(map[string]string, len(out.UserAttributes))}
	for _, attr := range out.UserAttributes {
		name, value := aws.ToString(attr.Name), aws.ToString(attr.Value)
		switch name {
		case "email":
			attrs.Email = value
		case "email_verified":
			attrs.EmailVerified = value == "true"
		default:
			attrs.Extra[name] = value
		}
	}
	return attrs, nil
}

// currentCredential returns a valid credential, refreshing an expired one
// when a refresh token is available. A credential that cannot be refreshed
// is cleared.
func (p *Provider) currentCredential(ctx context.Context) (*credentials.Credential, error) {
	cred, err := p.creds.Load()
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return nil, identity.ErrNoCredential
	}
	if cred.Valid() {
		return cred, nil
	}

	refreshed, err := p.refresh(ctx, cred)
	if err != nil {
		p.logger.Debug("cognito token refresh failed", "error", err)
		if clearErr := p.creds.Clear(); clearErr != nil {
			p.logger.Warn("failed to clear stale credential", "error", clearErr)
		}
		return nil, identity.NewError("SessionExpired", identity.ErrNoCredential, "session expired")
	}
	return refreshed, nil
}

func (p *Provider) refresh(ctx context.Context, cred *credentials.Credential) (*credentials.Credential, error) {
	if cred.Token == nil || cred.Token.RefreshToken == "" {
		return nil, errors.New("no refresh token")
	}

	params := map[string]string{"REFRESH_TOKEN": cred.Token.RefreshToken}
	if hash := p.secretHash(cred.Username); hash != nil {
		params["SECRET_HASH"] = *hash
	}
	out, err := p.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(p.cfg.ClientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, mapError(err)
	}
	if out.AuthenticationResult == nil {
		return nil, errors.New("refresh returned no tokens")
	}

	next := p.credential(out.AuthenticationResult, cred.Username, cred.Token.RefreshToken)
	if err := p.creds.Save(next); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	return next, nil
}

// credential builds a stored credential from an auth result. The refresh
// flow does not return a new refresh token, so the previous one is kept.
func (p *Provider) credential(res *types.AuthenticationResultType, username, refreshToken string) *credentials.Credential {
	now := p.now()
	token := &oauth2.Token{
		AccessToken:  aws.ToString(res.AccessToken),
		TokenType:    aws.ToString(res.TokenType),
		RefreshToken: aws.ToString(res.RefreshToken),
		Expiry:       now.Add(time.Duration(res.ExpiresIn) * time.Second),
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return &credentials.Credential{
		Token:    token,
		IDToken:  aws.ToString(res.IdToken),
		Username: username,
		SavedAt:  now.UTC(),
	}
}

// secretHash computes the SECRET_HASH parameter required when the app
// client has a secret. It returns nil for public clients.
func (p *Provider) secretHash(username string) *string {
	if p.cfg.ClientSecret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(p.cfg.ClientSecret))
	mac.Write([]byte(username + p.cfg.ClientID))
	return aws.String(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func poolUsername(c Claims) string {
	if c.Username != "" {
		return c.Username
	}
	return c.Subject
}

func delivery(details *types.CodeDeliveryDetailsType) identity.CodeDelivery {
	if details == nil {
		return identity.CodeDelivery{}
	}
	return identity.CodeDelivery{
		Medium:      string(details.DeliveryMedium),
		Destination: aws.ToString(details.Destination),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
