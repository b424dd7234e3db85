package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var unlockAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kc_admin_unlock_attempts_total",
	Help: "Общее количество попыток разблокировки панели администратора",
}, []string{"result"})

var (
	// ErrWindowClosed — окно ввода PIN не открыто или истекло.
	ErrWindowClosed = errors.New("окно ввода PIN закрыто")
	// ErrInvalidPIN — неверный PIN.
	ErrInvalidPIN = errors.New("неверный PIN")
)

// PINVerifier сравнивает PIN с настроенным значением за постоянное время.
type PINVerifier struct {
	pin []byte
}

// NewPINVerifier создаёт PINVerifier.
func NewPINVerifier(pin string) *PINVerifier {
	return &PINVerifier{pin: []byte(pin)}
}

// CheckPin возвращает true при совпадении PIN.
func (v *PINVerifier) CheckPin(candidate string) bool {
	return subtle.ConstantTimeCompare(v.pin, []byte(candidate)) == 1
}

// Grant — результат успешной разблокировки.
type Grant struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Gate — окно ввода PIN, открываемое жестом на экране.
type Gate struct {
	verifier *PINVerifier
	issuer   *TokenIssuer
	window   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	deadline time.Time
}

// NewGate создаёт Gate. window — время, в течение которого принимается PIN.
func NewGate(verifier *PINVerifier, issuer *TokenIssuer, window time.Duration, logger *slog.Logger) *Gate {
	return &Gate{
		verifier: verifier,
		issuer:   issuer,
		window:   window,
		logger:   logger.With(slog.String("component", "admin_gate")),
		now:      time.Now,
	}
}

// RequestAdmin открывает (или продлевает) окно ввода PIN.
// Возвращает момент закрытия окна.
func (g *Gate) RequestAdmin() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.deadline = g.now().Add(g.window)
	g.logger.Info("Запрошен доступ администратора",
		slog.Time("deadline", g.deadline),
	)
	return g.deadline
}

// IsOpen возвращает true, пока окно ввода PIN открыто.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openLocked()
}

func (g *Gate) openLocked() bool {
	return !g.deadline.IsZero() && g.now().Before(g.deadline)
}

// Unlock проверяет PIN и выдаёт токен администратора.
// Успешная разблокировка закрывает окно.
func (g *Gate) Unlock(pin string) (*Grant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.openLocked() {
		unlockAttemptsTotal.WithLabelValues("window_closed").Inc()
		return nil, ErrWindowClosed
	}
	if !g.verifier.CheckPin(pin) {
		unlockAttemptsTotal.WithLabelValues("invalid_pin").Inc()
		g.logger.Warn("Неверный PIN администратора")
		return nil, ErrInvalidPIN
	}

	token, expiresAt, err := g.issuer.Issue(SubjectAdmin, ScopeAdmin)
	if err != nil {
		unlockAttemptsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	g.deadline = time.Time{}
	unlockAttemptsTotal.WithLabelValues("success").Inc()

	g.logger.Info("Панель администратора разблокирована",
		slog.Time("expires_at", expiresAt),
	)
	return &Grant{Token: token, ExpiresAt: expiresAt}, nil
}
