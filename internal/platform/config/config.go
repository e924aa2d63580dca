package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultLogLevel           = "info"
	defaultCartStore          = StoreFirestore
	defaultMongoDatabase      = "cart"
	defaultCartCacheTTL       = 15 * time.Minute
	defaultCatalogMode        = CatalogModeHTTP
	defaultCatalogTimeout     = 3 * time.Second
	defaultBreakerFailures    = 5
	defaultBreakerOpenTimeout = 30 * time.Second
	defaultCurrency           = "USD"
	defaultTaxRate            = "0.10"
	defaultAbandonAfter       = 24 * time.Hour
	defaultCartTTL            = 30 * 24 * time.Hour
	defaultLifecycleInterval  = 15 * time.Minute
	defaultLifecycleBatch     = 200
	defaultHandoffDriver      = HandoffPubSub
	defaultCheckoutTopic      = "cart-checkout"
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultSecretEnvironment  = "local"
	defaultSecretFallbackFile = ".secrets.local"
)

// Supported cart store drivers.
const (
	StoreFirestore = "firestore"
	StoreMongo     = "mongo"
	StoreMemory    = "memory"
)

// Supported catalog gateway modes.
const (
	CatalogModeHTTP      = "http"
	CatalogModeFirestore = "firestore"
	CatalogModeStatic    = "static"
)

// Supported checkout hand-off drivers.
const (
	HandoffPubSub = "pubsub"
	HandoffKafka  = "kafka"
	HandoffNone   = "none"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Store       StoreConfig
	Mongo       MongoConfig
	Redis       RedisConfig
	Catalog     CatalogConfig
	Cart        CartConfig
	Handoff     HandoffConfig
	Idempotency IdempotencyConfig
	Secrets     SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LogConfig struct {
	Level string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StoreConfig selects the cart store driver.
type StoreConfig struct {
	Driver string
}

type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig configures the cart cache and idempotency store. An empty Addr disables both.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// CatalogConfig configures the product catalog gateway.
type CatalogConfig struct {
	Mode               string
	BaseURL            string
	File               string
	Timeout            time.Duration
	BreakerFailures    int
	BreakerOpenTimeout time.Duration
}

// CartConfig holds pricing and lifecycle policy.
type CartConfig struct {
	Currency                 string
	TaxRate                  decimal.Decimal
	ShippingRates            map[string]int64
	AbandonAfter             time.Duration
	TTL                      time.Duration
	LifecycleInterval        time.Duration
	LifecycleBatch           int
	RevokeCouponBelowMinimum bool
}

// HandoffConfig selects where converted carts are published.
type HandoffConfig struct {
	Driver        string
	PubSubProject string
	PubSubTopic   string
	KafkaBrokers  []string
	KafkaTopic    string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecretsConfig configures the Secret Manager fetcher.
type SecretsConfig struct {
	Environment    string
	DefaultProject string
	FallbackFile   string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to nothing.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	redacted := e.RedactedNames()
	if len(redacted) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns hashed identifiers safe to print in logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.names) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over
// system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields as mandatory, e.g. "Redis.Password".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// EnvironmentValues returns the effective key/value map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers use it to build the secret
// fetcher before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the configuration from defaults, .env overrides, environment variables
// and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	if options.secret == nil {
		options.secret = SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}

	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		value, ok := values[key]
		return strings.TrimSpace(value), ok
	}

	var invalid []string
	taxRate, err := decimal.NewFromString(stringWithDefault(lookup, "API_CART_TAX_RATE", defaultTaxRate))
	if err != nil {
		invalid = append(invalid, "Cart.TaxRate")
	}
	shippingRates, err := ratesWithDefault(lookup, "API_CART_SHIPPING_RATES")
	if err != nil {
		invalid = append(invalid, "Cart.ShippingRates")
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Log: LogConfig{
			Level: strings.ToLower(stringWithDefault(lookup, "API_LOG_LEVEL", defaultLogLevel)),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_CART_STORE", defaultCartStore)),
		},
		Mongo: MongoConfig{
			URI:      stringWithDefault(lookup, "API_MONGO_URI", ""),
			Database: stringWithDefault(lookup, "API_MONGO_DATABASE", defaultMongoDatabase),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
			CacheTTL: durationWithDefault(lookup, "API_CART_CACHE_TTL", defaultCartCacheTTL),
		},
		Catalog: CatalogConfig{
			Mode:               strings.ToLower(stringWithDefault(lookup, "API_CATALOG_MODE", defaultCatalogMode)),
			BaseURL:            stringWithDefault(lookup, "API_CATALOG_BASE_URL", ""),
			File:               stringWithDefault(lookup, "API_CATALOG_FILE", ""),
			Timeout:            durationWithDefault(lookup, "API_CATALOG_TIMEOUT", defaultCatalogTimeout),
			BreakerFailures:    intWithDefault(lookup, "API_CATALOG_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerOpenTimeout: durationWithDefault(lookup, "API_CATALOG_BREAKER_OPEN_TIMEOUT", defaultBreakerOpenTimeout),
		},
		Cart: CartConfig{
			Currency:                 strings.ToUpper(stringWithDefault(lookup, "API_CART_CURRENCY", defaultCurrency)),
			TaxRate:                  taxRate,
			ShippingRates:            shippingRates,
			AbandonAfter:             durationWithDefault(lookup, "API_CART_ABANDON_AFTER", defaultAbandonAfter),
			TTL:                      durationWithDefault(lookup, "API_CART_TTL", defaultCartTTL),
			LifecycleInterval:        durationWithDefault(lookup, "API_CART_LIFECYCLE_INTERVAL", defaultLifecycleInterval),
			LifecycleBatch:           intWithDefault(lookup, "API_CART_LIFECYCLE_BATCH", defaultLifecycleBatch),
			RevokeCouponBelowMinimum: boolWithDefault(lookup, "API_CART_REVOKE_COUPON_BELOW_MIN", true),
		},
		Handoff: HandoffConfig{
			Driver:        strings.ToLower(stringWithDefault(lookup, "API_HANDOFF_DRIVER", defaultHandoffDriver)),
			PubSubProject: stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:   stringWithDefault(lookup, "API_PUBSUB_CHECKOUT_TOPIC", defaultCheckoutTopic),
			KafkaBrokers:  csvWithDefault(lookup, "API_KAFKA_BROKERS"),
			KafkaTopic:    stringWithDefault(lookup, "API_KAFKA_CHECKOUT_TOPIC", defaultCheckoutTopic),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Secrets: SecretsConfig{
			Environment:    strings.ToLower(stringWithDefault(lookup, "API_SECRET_ENVIRONMENT", defaultSecretEnvironment)),
			DefaultProject: stringWithDefault(lookup, "API_SECRET_DEFAULT_PROJECT_ID", ""),
			FallbackFile:   stringWithDefault(lookup, "API_SECRET_FALLBACK_FILE", defaultSecretFallbackFile),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Handoff.PubSubProject == "" {
		cfg.Handoff.PubSubProject = cfg.Firebase.ProjectID
	}
	if cfg.Secrets.DefaultProject == "" {
		cfg.Secrets.DefaultProject = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Mongo.URI", &cfg.Mongo.URI},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = value
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") {
		return value, nil
	}
	secret, err := resolver.ResolveSecret(ctx, trimmed)
	if err != nil {
		return "", &SecretError{Ref: trimmed, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}

	switch cfg.Store.Driver {
	case StoreFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoreMongo:
		if cfg.Mongo.URI == "" {
			missing = append(missing, "Mongo.URI")
		}
		if cfg.Mongo.Database == "" {
			missing = append(missing, "Mongo.Database")
		}
	case StoreMemory:
	default:
		missing = append(missing, "Store.Driver")
	}

	switch cfg.Catalog.Mode {
	case CatalogModeHTTP:
		if cfg.Catalog.BaseURL == "" {
			missing = append(missing, "Catalog.BaseURL")
		}
		if cfg.Catalog.BreakerFailures <= 0 {
			missing = append(missing, "Catalog.BreakerFailures")
		}
	case CatalogModeFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case CatalogModeStatic:
		if cfg.Catalog.File == "" {
			missing = append(missing, "Catalog.File")
		}
	default:
		missing = append(missing, "Catalog.Mode")
	}

	switch cfg.Handoff.Driver {
	case HandoffPubSub:
		if cfg.Handoff.PubSubProject == "" {
			missing = append(missing, "Handoff.PubSubProject")
		}
		if cfg.Handoff.PubSubTopic == "" {
			missing = append(missing, "Handoff.PubSubTopic")
		}
	case HandoffKafka:
		if len(cfg.Handoff.KafkaBrokers) == 0 {
			missing = append(missing, "Handoff.KafkaBrokers")
		}
		if cfg.Handoff.KafkaTopic == "" {
			missing = append(missing, "Handoff.KafkaTopic")
		}
	case HandoffNone:
	default:
		missing = append(missing, "Handoff.Driver")
	}

	if len(cfg.Cart.Currency) != 3 {
		missing = append(missing, "Cart.Currency")
	}
	if cfg.Cart.TaxRate.IsNegative() || cfg.Cart.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		missing = append(missing, "Cart.TaxRate")
	}
	if cfg.Cart.AbandonAfter <= 0 {
		missing = append(missing, "Cart.AbandonAfter")
	}
	if cfg.Cart.TTL <= 0 {
		missing = append(missing, "Cart.TTL")
	}
	if cfg.Cart.LifecycleInterval <= 0 {
		missing = append(missing, "Cart.LifecycleInterval")
	}
	if cfg.Cart.LifecycleBatch <= 0 {
		missing = append(missing, "Cart.LifecycleBatch")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: dedupe(missing)}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if strings.TrimSpace(resolved[trimmed]) == "" {
			missing = append(missing, trimmed)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ratesWithDefault parses "standard=500,express=1200" into minor-unit costs keyed by method.
func ratesWithDefault(lookup func(string) (string, bool), key string) (map[string]int64, error) {
	rates := make(map[string]int64)
	for _, entry := range csvWithDefault(lookup, key) {
		name, raw, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" {
			return nil, fmt.Errorf("config: malformed shipping rate %q", entry)
		}
		cost, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || cost < 0 {
			return nil, fmt.Errorf("config: invalid shipping cost for %q", name)
		}
		rates[name] = cost
	}
	return rates, nil
}
