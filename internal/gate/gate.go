// Package gate wraps sensitive actions in an interactive PIN challenge. The
// wrapped action runs exactly once, and only after the secret store has
// verified the entered PIN for this challenge instance.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
)

// State of the challenge lifecycle.
type State int

const (
	Idle State = iota
	Challenging
	Verifying
	Authorized
	Denied
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Challenging:
		return "challenging"
	case Verifying:
		return "verifying"
	case Authorized:
		return "authorized"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

var (
	// ErrChallengeCancelled is returned by a prompt (or by Execute on
	// context cancellation) when the user abandons the challenge.
	ErrChallengeCancelled = errors.New("challenge cancelled")
	// ErrNoFurtherAttempts is returned by a prompt that has exhausted its
	// supply of secrets; Execute maps it to a denial.
	ErrNoFurtherAttempts = errors.New("no further attempts")
	// ErrGateBusy is returned when a challenge is already in flight.
	ErrGateBusy = errors.New("a challenge is already in progress")
)

// SecretPrompt supplies the entered secret for one attempt. attempt starts
// at 1 and increments on every denial, letting interactive surfaces keep the
// entry open for retry.
type SecretPrompt func(ctx context.Context, attempt int) (string, error)

// OneShot adapts a secret already captured (e.g. from a request body) into a
// prompt that refuses to retry.
func OneShot(secret string) SecretPrompt {
	return func(_ context.Context, attempt int) (string, error) {
		if attempt > 1 {
			return "", ErrNoFurtherAttempts
		}
		return secret, nil
	}
}

type Gate struct {
	secrets domain.SecretStore
	logger  *slog.Logger

	mu    sync.Mutex
	state State
}

func New(secrets domain.SecretStore, logger *slog.Logger) *Gate {
	return &Gate{
		secrets: secrets,
		logger:  logger,
		state:   Idle,
	}
}

// CurrentState reports where the challenge lifecycle stands.
func (g *Gate) CurrentState() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// Execute runs action after a successful PIN challenge for accountID. The
// challenge loops Challenging → Verifying until the prompt succeeds, gives
// up, or is cancelled. Cancellation before Verifying returns the gate to
// Idle without invoking action; once Verifying has started the verification
// runs to a definite outcome. The plaintext secret is handed straight to the
// secret store and never retained on the gate.
func (g *Gate) Execute(ctx context.Context, accountID uuid.UUID, prompt SecretPrompt, action func() error) error {
	g.mu.Lock()
	if g.state != Idle {
		g.mu.Unlock()
		return ErrGateBusy
	}
	g.state = Challenging
	g.mu.Unlock()

	defer g.setState(Idle)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ErrChallengeCancelled
		default:
		}

		plaintext, err := prompt(ctx, attempt)
		if err != nil {
			switch {
			case errors.Is(err, ErrChallengeCancelled), errors.Is(err, context.Canceled):
				return ErrChallengeCancelled
			case errors.Is(err, ErrNoFurtherAttempts):
				return apperrors.ErrAuthorizationDenied
			default:
				return err
			}
		}

		g.setState(Verifying)
		ok, err := g.secrets.Verify(ctx, accountID, plaintext)
		if err != nil {
			g.setState(Denied)
			if apperrors.CodeOf(err) == apperrors.AccountLocked {
				g.logger.Warn("Challenge denied, account locked", "account_id", accountID)
				return err
			}
			return err
		}

		if ok {
			g.setState(Authorized)
			g.logger.Info("Challenge authorized", "account_id", accountID, "attempt", attempt)
			return action()
		}

		// Denied: the challenge surface stays open for another attempt.
		g.setState(Denied)
		g.logger.Warn("Challenge attempt denied", "account_id", accountID, "attempt", attempt)
		g.setState(Challenging)
	}
}
