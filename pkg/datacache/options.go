package datacache

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vnykmshr/datacache-go/pkg/roster"
)

// DefaultKickMessage is shown to an entity refused because its session is
// held elsewhere
const DefaultKickMessage = "Your data is still in use on another server. Please rejoin in a moment."

// DefaultSessionLockTimeout is how long a session claim stays valid without
// renewal
const DefaultSessionLockTimeout = 30 * time.Minute

// IdentifyFunc resolves the entity making an HTTP request
type IdentifyFunc func(r *http.Request) (int64, bool)

// Options configure a Registry
type Options struct {
	// OwnerID identifies this process in session claims
	// Default: "<PlaceID>:<random uuid>"
	OwnerID string

	// PlaceID prefixes the generated OwnerID
	PlaceID string

	// TickInterval is the scheduler period
	// Default: 1 second
	TickInterval time.Duration

	// SessionLockTimeout is the age after which a foreign claim may be taken over
	// Default: 30 minutes
	SessionLockTimeout time.Duration

	// GracePeriod is waited before force-saving an entity that left the roster
	// Default: 60 seconds
	GracePeriod time.Duration

	// LockCheckInterval is how often each admitted entity's stored session is
	// checked for a foreign claim
	// Default: 30 seconds
	LockCheckInterval time.Duration

	// MaxEvictionDeferrals bounds how many lock checks may postpone a kick
	// while a write is in flight; negative forces the kick immediately
	// Default: 5
	MaxEvictionDeferrals int

	// KickMessage is passed to Roster.Kick on rejection
	KickMessage string

	// Roster is consulted for departures and receives kicks; optional
	Roster roster.Roster

	// Logger receives operational logs
	// Default: zap production logger at info level
	Logger Logger

	// Now returns the current time; tests substitute a fake clock
	Now func() time.Time

	// Budget sizing: BudgetBase + BudgetPerEntity × admitted per BudgetWindow.
	// A negative BudgetPerEntity disables per-entity growth.
	BudgetBase      int
	BudgetPerEntity int
	BudgetWindow    time.Duration

	// Identify resolves the requesting entity for the client-read endpoint
	// Default: the X-Entity-Id header
	Identify IdentifyFunc
}

// NewDefaultOptions returns Options with production defaults
func NewDefaultOptions() *Options {
	return &Options{
		PlaceID:              "local",
		TickInterval:         time.Second,
		SessionLockTimeout:   DefaultSessionLockTimeout,
		GracePeriod:          60 * time.Second,
		LockCheckInterval:    30 * time.Second,
		MaxEvictionDeferrals: 5,
		KickMessage:          DefaultKickMessage,
		Now:                  time.Now,
		BudgetBase:           60,
		BudgetPerEntity:      10,
		BudgetWindow:         time.Minute,
		Identify:             HeaderIdentify("X-Entity-Id"),
	}
}

// HeaderIdentify reads the entity id from an HTTP header
func HeaderIdentify(header string) IdentifyFunc {
	return func(r *http.Request) (int64, bool) {
		v := r.Header.Get(header)
		if v == "" {
			return 0, false
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	}
}

// WithOwnerID sets the session owner identifier
func (o *Options) WithOwnerID(id string) *Options {
	o.OwnerID = id
	return o
}

// WithPlaceID sets the prefix of the generated owner identifier
func (o *Options) WithPlaceID(id string) *Options {
	o.PlaceID = id
	return o
}

// WithTickInterval sets the scheduler period
func (o *Options) WithTickInterval(d time.Duration) *Options {
	o.TickInterval = d
	return o
}

// WithSessionLockTimeout sets the stale lock threshold
func (o *Options) WithSessionLockTimeout(d time.Duration) *Options {
	o.SessionLockTimeout = d
	return o
}

// WithGracePeriod sets the departure grace period
func (o *Options) WithGracePeriod(d time.Duration) *Options {
	o.GracePeriod = d
	return o
}

// WithLockCheckInterval sets the foreign lock check period
func (o *Options) WithLockCheckInterval(d time.Duration) *Options {
	o.LockCheckInterval = d
	return o
}

// WithMaxEvictionDeferrals sets the bound on postponed kicks
func (o *Options) WithMaxEvictionDeferrals(n int) *Options {
	o.MaxEvictionDeferrals = n
	return o
}

// WithKickMessage sets the rejection message
func (o *Options) WithKickMessage(msg string) *Options {
	o.KickMessage = msg
	return o
}

// WithRoster sets the live roster
func (o *Options) WithRoster(r roster.Roster) *Options {
	o.Roster = r
	return o
}

// WithLogger sets the logger
func (o *Options) WithLogger(l Logger) *Options {
	o.Logger = l
	return o
}

// WithClock sets the time source
func (o *Options) WithClock(now func() time.Time) *Options {
	o.Now = now
	return o
}

// WithBudget sets the request budget sizing
func (o *Options) WithBudget(base, perEntity int, window time.Duration) *Options {
	o.BudgetBase = base
	o.BudgetPerEntity = perEntity
	o.BudgetWindow = window
	return o
}

// WithIdentify sets the HTTP identity resolver
func (o *Options) WithIdentify(fn IdentifyFunc) *Options {
	o.Identify = fn
	return o
}

// normalize fills zero values with defaults
func (o *Options) normalize() {
	d := NewDefaultOptions()
	if o.PlaceID == "" {
		o.PlaceID = d.PlaceID
	}
	if o.OwnerID == "" {
		o.OwnerID = o.PlaceID + ":" + uuid.NewString()
	}
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	if o.SessionLockTimeout <= 0 {
		o.SessionLockTimeout = d.SessionLockTimeout
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = d.GracePeriod
	}
	if o.LockCheckInterval <= 0 {
		o.LockCheckInterval = d.LockCheckInterval
	}
	switch {
	case o.MaxEvictionDeferrals == 0:
		o.MaxEvictionDeferrals = d.MaxEvictionDeferrals
	case o.MaxEvictionDeferrals < 0:
		o.MaxEvictionDeferrals = 0
	}
	if o.KickMessage == "" {
		o.KickMessage = d.KickMessage
	}
	if o.Logger == nil {
		o.Logger = NewDefaultLogger(LogLevelInfo)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.BudgetBase <= 0 {
		o.BudgetBase = d.BudgetBase
	}
	switch {
	case o.BudgetPerEntity == 0:
		o.BudgetPerEntity = d.BudgetPerEntity
	case o.BudgetPerEntity < 0:
		o.BudgetPerEntity = 0
	}
	if o.BudgetWindow <= 0 {
		o.BudgetWindow = d.BudgetWindow
	}
	if o.Identify == nil {
		o.Identify = d.Identify
	}
}
