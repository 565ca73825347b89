package interop

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/famlabs/agentnode/pkg/config"
	"github.com/famlabs/agentnode/pkg/memory"
	"github.com/famlabs/agentnode/pkg/observability"
)

// MaxClockSkew bounds how far an envelope timestamp may drift from local time.
const MaxClockSkew = 300 * time.Second

const checkinQuestion = "Hey, do you have any cool new skills today?"

// Route selects the delivery path for a send.
type Route string

// Delivery routes.
const (
	RouteDirect Route = "direct"
	RouteHub    Route = "hub"
	RouteAuto   Route = "auto"
)

// SendResult describes a completed send.
type SendResult struct {
	Sent      bool           `json:"sent"`
	Target    string         `json:"target"`
	RoutedVia string         `json:"routed_via,omitempty"`
	Response  map[string]any `json:"response,omitempty"`
}

// Accepted describes a validated inbound envelope.
type Accepted struct {
	Source                 string         `json:"source"`
	Target                 string         `json:"target"`
	TaskType               string         `json:"task_type"`
	Payload                map[string]any `json:"payload"`
	Nonce                  string         `json:"nonce"`
	IdentitySignatureValid bool           `json:"identity_signature_valid"`
}

// RelayResult describes a forwarded envelope.
type RelayResult struct {
	Forwarded bool           `json:"forwarded"`
	Target    string         `json:"target"`
	Response  map[string]any `json:"response,omitempty"`
}

// CheckinResult is one peer's outcome from a check-in sweep.
type CheckinResult struct {
	Target string `json:"target"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// SkillsManifestFunc returns the local skills manifest for check-in payloads.
type SkillsManifestFunc func() []map[string]any

// BridgeConfig assembles a Bridge's dependencies.
type BridgeConfig struct {
	ProfileName    string
	HealthPort     int
	Directory      *Directory
	Codec          *Codec
	IdentityMode   config.IdentityMode
	Messages       *memory.MessageLog
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	SkillsManifest SkillsManifestFunc
	HTTPClient     *http.Client
	Now            func() time.Time
}

// Bridge builds, delivers, validates, and relays envelopes between nodes.
type Bridge struct {
	profileName    string
	healthPort     int
	directory      *Directory
	codec          *Codec
	identityMode   config.IdentityMode
	messages       *memory.MessageLog
	log            *slog.Logger
	metrics        *observability.Metrics
	skillsManifest SkillsManifestFunc
	client         *http.Client
	now            func() time.Time
}

// NewBridge builds a bridge. Logger must be non-nil; Metrics may be nil.
func NewBridge(cfg BridgeConfig) *Bridge {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	manifest := cfg.SkillsManifest
	if manifest == nil {
		manifest = func() []map[string]any { return nil }
	}
	return &Bridge{
		profileName:    cfg.ProfileName,
		healthPort:     cfg.HealthPort,
		directory:      cfg.Directory,
		codec:          cfg.Codec,
		identityMode:   cfg.IdentityMode,
		messages:       cfg.Messages,
		log:            cfg.Logger,
		metrics:        cfg.Metrics,
		skillsManifest: manifest,
		client:         client,
		now:            now,
	}
}

// HubProfile returns the configured routing hub, or "".
func (b *Bridge) HubProfile() string {
	hub, err := b.directory.HubProfile()
	if err != nil {
		b.log.Warn("node directory unreadable", "error", err)
		return ""
	}
	return hub
}

// BuildEnvelope constructs and signs an outbound envelope.
func (b *Bridge) BuildEnvelope(target, taskType string, payload map[string]any) (Envelope, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}
	env := Envelope{
		Source:    b.profileName,
		Target:    target,
		TaskType:  taskType,
		Payload:   payload,
		Nonce:     hex.EncodeToString(nonce),
		Timestamp: b.now().Unix(),
	}
	sig, err := b.codec.Sign(&env)
	if err != nil {
		return Envelope{}, err
	}
	env.Signature = sig

	identitySig, err := b.codec.SignV2(&env)
	if err != nil {
		return Envelope{}, err
	}
	if identitySig != "" {
		env.Signer = env.Source
		env.SignatureV2 = identitySig
		env.SignatureV2Alg = "ed25519"
	}
	return env, nil
}

// Send delivers a task envelope to a configured peer over the chosen route.
// Every outcome appends exactly one outbox record.
func (b *Bridge) Send(ctx context.Context, targetProfile, taskType string, payload map[string]any, route Route) (SendResult, error) {
	targets, err := b.directory.ConfiguredTargets()
	if err != nil {
		return SendResult{}, err
	}
	target, ok := targets[targetProfile]
	if !ok {
		return SendResult{}, fmt.Errorf("target not allowlisted/configured: %s", targetProfile)
	}

	env, err := b.BuildEnvelope(targetProfile, taskType, payload)
	if err != nil {
		return SendResult{}, err
	}

	if route == RouteHub {
		return b.sendViaHub(ctx, targetProfile, env, b.payloadForLog(payload, nil))
	}

	response, postErr := b.postEnvelope(ctx, target.Host, env)
	if postErr == nil {
		_, err := b.messages.Append(ctx, memory.Message{
			Direction: memory.DirectionOutbox,
			Source:    b.profileName,
			Target:    targetProfile,
			TaskType:  taskType,
			Payload:   b.payloadForLog(payload, response),
			Nonce:     env.Nonce,
			Status:    "sent",
		})
		if err != nil {
			return SendResult{}, err
		}
		b.metrics.Send(ctx, "sent")
		return SendResult{Sent: true, Target: targetProfile, Response: response}, nil
	}

	var transportErr *TransportError
	if !errors.As(postErr, &transportErr) {
		return SendResult{}, postErr
	}

	if route == RouteAuto && targetProfile != b.HubProfile() {
		result, hubErr := b.sendViaHub(ctx, targetProfile, env, b.payloadForLog(payload, nil))
		if hubErr == nil {
			return result, nil
		}
		b.log.Warn("hub fallback failed", "target", targetProfile, "error", hubErr)
	}

	_, err = b.messages.Append(ctx, memory.Message{
		Direction: memory.DirectionOutbox,
		Source:    b.profileName,
		Target:    targetProfile,
		TaskType:  taskType,
		Payload:   payload,
		Nonce:     env.Nonce,
		Status:    "failed:" + transportErr.Error(),
	})
	if err != nil {
		return SendResult{}, err
	}
	b.metrics.Send(ctx, "failed")
	// The original direct-delivery failure surfaces even when a fallback was
	// attempted and also failed.
	return SendResult{}, transportErr
}

// SendTask sends over the auto route and flattens the result to a map, the
// shape tool outputs use.
func (b *Bridge) SendTask(ctx context.Context, targetProfile, taskType string, payload map[string]any) (map[string]any, error) {
	result, err := b.Send(ctx, targetProfile, taskType, payload, RouteAuto)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"sent": result.Sent, "target": result.Target}
	if result.RoutedVia != "" {
		out["routed_via"] = result.RoutedVia
	}
	if result.Response != nil {
		out["response"] = result.Response
	}
	return out, nil
}

func (b *Bridge) sendViaHub(ctx context.Context, targetProfile string, env Envelope, payloadForLog map[string]any) (SendResult, error) {
	hubProfile := b.HubProfile()
	if hubProfile == "" || hubProfile == b.profileName {
		return SendResult{}, fmt.Errorf("routing hub not configured for this profile")
	}
	targets, err := b.directory.ConfiguredTargets()
	if err != nil {
		return SendResult{}, err
	}
	hub, ok := targets[hubProfile]
	if !ok {
		return SendResult{}, fmt.Errorf("hub profile is not configured as target: %s", hubProfile)
	}

	raw, err := EncodeEnvelope(env)
	if err != nil {
		return SendResult{}, err
	}
	var innerDoc map[string]any
	if err := json.Unmarshal(raw, &innerDoc); err != nil {
		return SendResult{}, fmt.Errorf("encode relay payload: %w", err)
	}
	relayEnv, err := b.BuildEnvelope(hubProfile, "route_envelope", map[string]any{"envelope": innerDoc})
	if err != nil {
		return SendResult{}, err
	}
	response, err := b.postEnvelope(ctx, hub.Host, relayEnv)
	if err != nil {
		return SendResult{}, err
	}
	_, err = b.messages.Append(ctx, memory.Message{
		Direction: memory.DirectionOutbox,
		Source:    b.profileName,
		Target:    targetProfile,
		TaskType:  env.TaskType,
		Payload:   payloadForLog,
		Nonce:     env.Nonce,
		Status:    "sent:routed:" + hubProfile,
	})
	if err != nil {
		return SendResult{}, err
	}
	b.metrics.Send(ctx, "sent:routed")
	return SendResult{Sent: true, Target: targetProfile, RoutedVia: hubProfile, Response: response}, nil
}

func (b *Bridge) postEnvelope(ctx context.Context, host string, env Envelope) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{"envelope": env})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	url := fmt.Sprintf("http://%s:%d/interop/inbox", host, b.healthPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &TransportError{Host: host, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Host: host, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Host: host, Status: resp.StatusCode, PeerBody: strings.TrimSpace(string(raw))}
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &TransportError{Host: host, Err: fmt.Errorf("decode peer response: %w", err)}
	}
	return decoded, nil
}

// validate runs the inbound checks shared by receive and relay: field
// completeness, target match, skew window, HMAC, and identity-mode policy.
// Replay handling is the caller's job.
func (b *Bridge) validate(env *Envelope, expectedTarget string) (Accepted, error) {
	var missing []string
	for field, value := range map[string]string{
		"source": env.Source, "target": env.Target, "task_type": env.TaskType,
		"nonce": env.Nonce, "signature": env.Signature,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if env.Payload == nil {
		missing = append(missing, "payload")
	}
	if env.Timestamp == 0 {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Accepted{}, &SchemaError{Detail: "missing fields: " + strings.Join(missing, ", ")}
	}

	if env.Target != expectedTarget {
		return Accepted{}, fmt.Errorf("%w: expected %s", ErrTargetMismatch, expectedTarget)
	}

	skew := b.now().Unix() - env.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(MaxClockSkew/time.Second) {
		return Accepted{}, ErrSkew
	}

	ok, err := b.codec.VerifyHMAC(env)
	if err != nil {
		return Accepted{}, err
	}
	if !ok {
		return Accepted{}, ErrBadSignature
	}

	v2Valid := b.codec.VerifyV2(env)
	hasV2 := strings.TrimSpace(env.SignatureV2) != ""
	switch b.identityMode {
	case config.IdentityStrict:
		if !v2Valid {
			return Accepted{}, fmt.Errorf("%w: missing or unverifiable (strict mode)", ErrIdentity)
		}
	case config.IdentityProvenance:
		if hasV2 && !v2Valid {
			return Accepted{}, fmt.Errorf("%w (provenance mode)", ErrIdentity)
		}
	}

	return Accepted{
		Source:                 env.Source,
		Target:                 env.Target,
		TaskType:               env.TaskType,
		Payload:                env.Payload,
		Nonce:                  env.Nonce,
		IdentitySignatureValid: v2Valid,
	}, nil
}

// Receive validates an inbound envelope addressed to this node. On success
// the nonce and the inbox record land in one transaction; a replay rejects
// before any record is written.
func (b *Bridge) Receive(ctx context.Context, env Envelope) (Accepted, error) {
	accepted, err := b.validate(&env, b.profileName)
	if err != nil {
		b.metrics.EnvelopeRejected(ctx, rejectionReason(err))
		return Accepted{}, err
	}

	_, err = b.messages.RecordInbound(ctx, memory.Message{
		Source:   accepted.Source,
		Target:   accepted.Target,
		TaskType: accepted.TaskType,
		Payload:  accepted.Payload,
		Nonce:    accepted.Nonce,
		Status:   "received",
	})
	if errors.Is(err, memory.ErrNonceExists) {
		b.metrics.EnvelopeRejected(ctx, "replay")
		return Accepted{}, ErrReplay
	}
	if err != nil {
		return Accepted{}, err
	}

	b.metrics.EnvelopeAccepted(ctx, accepted.Source)
	b.log.Info("envelope accepted",
		"source", accepted.Source, "task_type", accepted.TaskType, "nonce", accepted.Nonce)
	return accepted, nil
}

// Relay forwards an envelope on a peer's behalf. The relayer may only forward
// envelopes it originated, and the inner envelope's nonce is not burned here;
// only the final target consumes it.
func (b *Bridge) Relay(ctx context.Context, relayerSource string, inner Envelope) (RelayResult, error) {
	if strings.TrimSpace(inner.Source) != relayerSource {
		b.metrics.EnvelopeRejected(ctx, "source_spoof")
		return RelayResult{}, ErrSourceSpoof
	}
	targets, err := b.directory.ConfiguredTargets()
	if err != nil {
		return RelayResult{}, err
	}
	target, ok := targets[inner.Target]
	if !ok {
		return RelayResult{}, fmt.Errorf("relay target not configured: %s", inner.Target)
	}

	validated, err := b.validate(&inner, inner.Target)
	if err != nil {
		b.metrics.EnvelopeRejected(ctx, rejectionReason(err))
		return RelayResult{}, err
	}

	response, err := b.postEnvelope(ctx, target.Host, inner)
	if err != nil {
		return RelayResult{}, err
	}
	_, err = b.messages.Append(ctx, memory.Message{
		Direction: memory.DirectionRelay,
		Source:    validated.Source,
		Target:    validated.Target,
		TaskType:  validated.TaskType,
		Payload:   validated.Payload,
		Nonce:     validated.Nonce,
		Status:    "forwarded_by:" + b.profileName,
	})
	if err != nil {
		return RelayResult{}, err
	}
	return RelayResult{Forwarded: true, Target: inner.Target, Response: response}, nil
}

// SendDailySkillsCheckins sends an at-most-once-per-interval check-in to each
// configured peer, using the outbox as scheduling state.
func (b *Bridge) SendDailySkillsCheckins(ctx context.Context, interval time.Duration) []CheckinResult {
	targets, err := b.directory.ConfiguredTargets()
	if err != nil {
		b.log.Warn("check-in sweep skipped", "error", err)
		return nil
	}
	profiles := make([]string, 0, len(targets))
	for profile := range targets {
		profiles = append(profiles, profile)
	}
	sort.Strings(profiles)

	now := b.now().Unix()
	var results []CheckinResult
	for _, profile := range profiles {
		lastSent, found, err := b.messages.LastOutboxSent(ctx, profile, "skills_checkin")
		if err != nil {
			results = append(results, CheckinResult{Target: profile, Error: err.Error()})
			continue
		}
		if found && now-lastSent < int64(interval/time.Second) {
			continue
		}
		payload := map[string]any{
			"kind":            "daily_skills_checkin",
			"question":        checkinQuestion,
			"requested_at":    now,
			"skills_manifest": b.skillsManifest(),
		}
		if _, err := b.Send(ctx, profile, "skills_checkin", payload, RouteAuto); err != nil {
			results = append(results, CheckinResult{Target: profile, Error: err.Error()})
			continue
		}
		results = append(results, CheckinResult{Target: profile, OK: true})
	}
	return results
}

// payloadForLog copies payload for the outbox record, folding in a truncated
// copy of any reply the peer returned.
func (b *Bridge) payloadForLog(payload, response map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	if response == nil {
		return out
	}
	reply, ok := response["reply"].(map[string]any)
	if !ok {
		return out
	}
	replyCopy := make(map[string]any, len(reply))
	for k, v := range reply {
		replyCopy[k] = v
	}
	if msg, ok := replyCopy["message"].(string); ok && len(msg) > 600 {
		replyCopy["message"] = msg[:597] + "..."
	}
	out["reply"] = replyCopy
	return out
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrTargetMismatch):
		return "target_mismatch"
	case errors.Is(err, ErrSkew):
		return "skew"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrIdentity):
		return "identity"
	case errors.Is(err, ErrReplay):
		return "replay"
	case errors.Is(err, ErrSourceSpoof):
		return "source_spoof"
	default:
		return "schema"
	}
}
