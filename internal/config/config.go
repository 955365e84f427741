package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr        string
	DBDSN           string
	JWTIssuer       string
	JWTSecret       string
	JWTTTL          time.Duration
	WebSocketOrigin string
	FeedMode        string // "sim" or "ws"
	FeedURL         string
	FeedSymbols     []string
	TickInterval    time.Duration
	StaleAfter      time.Duration
	BalanceCap      decimal.Decimal
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		c.JWTTTL = 24 * time.Hour
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, err
		}
		c.JWTTTL = d
	}
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")

	c.FeedMode = strings.ToLower(strings.TrimSpace(os.Getenv("FEED_MODE")))
	if c.FeedMode == "" {
		c.FeedMode = "sim"
	}
	if c.FeedMode != "sim" && c.FeedMode != "ws" {
		return c, errors.New("invalid FEED_MODE: use sim or ws")
	}
	c.FeedURL = os.Getenv("FEED_URL")
	if c.FeedMode == "ws" && c.FeedURL == "" {
		missing = append(missing, "FEED_URL")
	}
	symbols := os.Getenv("FEED_SYMBOLS")
	if symbols == "" {
		symbols = "AAPL,TSLA,NVDA,BTC-USD,ETH-USD,SOL-USD"
	}
	for _, s := range strings.Split(symbols, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			c.FeedSymbols = append(c.FeedSymbols, strings.ToUpper(s))
		}
	}

	c.TickInterval = 250 * time.Millisecond
	if raw := os.Getenv("TICK_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return c, err
		}
		c.TickInterval = d
	}
	c.StaleAfter = 30 * time.Second
	if raw := os.Getenv("TICK_STALE_AFTER"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return c, err
		}
		c.StaleAfter = d
	}

	capRaw := os.Getenv("BALANCE_CAP")
	if capRaw == "" {
		capRaw = "100000"
	}
	capVal, err := decimal.NewFromString(capRaw)
	if err != nil || capVal.LessThanOrEqual(decimal.Zero) {
		return c, errors.New("invalid BALANCE_CAP")
	}
	c.BalanceCap = capVal

	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ", "))
	}
	return c, nil
}
