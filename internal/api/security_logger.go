package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
	"github.com/MJE43/race-pf-replay-go/internal/race"
)

// SecurityLogger writes audit records in which seeds only ever appear as
// truncated hashes.
type SecurityLogger struct {
	logger *log.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{
		logger: log.New(os.Stdout, "[SECURITY] ", log.LstdFlags|log.LUTC),
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// LogRaceOperation records a simulated, verified or settled race.
func (sl *SecurityLogger) LogRaceOperation(requestID, operation string, seed engine.Seed, res *race.Result) {
	sl.logger.Printf(
		"race_operation request_id=%s operation=%s strategy=%s seed_hash=%s lanes=%d ticks=%d winners=%v engine_version=%s timestamp=%s",
		requestID,
		operation,
		res.Strategy,
		hashSeed(seed),
		res.Config.Lanes(),
		res.Ticks,
		res.Winners,
		EngineVersion,
		timestamp(),
	)
}

// LogScanOperation logs scan operations with security-safe parameters
func (sl *SecurityLogger) LogScanOperation(requestID string, req *ScanRequest, houseEdgeBps uint32) {
	sl.logger.Printf(
		"scan_operation request_id=%s strategy=%s base_hash=%s index_range=%d-%d lanes=%d target_lane=%d target_place=%s limit=%d timeout_ms=%d house_edge_bps=%d engine_version=%s timestamp=%s",
		requestID,
		req.Strategy,
		hashSeedRef(req.BaseSeed),
		req.IndexStart,
		req.IndexEnd,
		req.Config.Lanes(),
		req.TargetLane,
		req.TargetPlace,
		req.Limit,
		req.TimeoutMs,
		houseEdgeBps,
		EngineVersion,
		timestamp(),
	)
}

// LogSeedHashOperation logs seed hashing operations (only the hash, never the raw seed)
func (sl *SecurityLogger) LogSeedHashOperation(requestID string, seed engine.Seed, commitment string) {
	sl.logger.Printf(
		"seed_hash_operation request_id=%s input_hash=%s commitment=%s engine_version=%s timestamp=%s",
		requestID,
		hashSeed(seed),
		commitment,
		EngineVersion,
		timestamp(),
	)
}

// LogHouseEdgeChange records every write to the process-wide house edge.
func (sl *SecurityLogger) LogHouseEdgeChange(requestID string, from, to uint32, remoteAddr string) {
	sl.logger.Printf(
		"house_edge_change request_id=%s from_bps=%d to_bps=%d remote_addr=%s engine_version=%s timestamp=%s",
		requestID,
		from,
		to,
		remoteAddr,
		EngineVersion,
		timestamp(),
	)
}

// LogSecurityEvent logs security-related events (failed validations, suspicious activity)
func (sl *SecurityLogger) LogSecurityEvent(
	requestID string,
	eventType string,
	description string,
	context map[string]interface{},
	remoteAddr string,
) {
	sl.logger.Printf(
		"security_event request_id=%s type=%s description=%q context=%+v remote_addr=%s engine_version=%s timestamp=%s",
		requestID,
		eventType,
		description,
		sanitizeContext(context),
		remoteAddr,
		EngineVersion,
		timestamp(),
	)
}

// LogPerformanceMetrics logs performance-related metrics for monitoring
func (sl *SecurityLogger) LogPerformanceMetrics(
	requestID string,
	operation string,
	duration time.Duration,
	itemsProcessed uint64,
	success bool,
) {
	status := "success"
	if !success {
		status = "failure"
	}

	sl.logger.Printf(
		"performance_metrics request_id=%s operation=%s duration=%v items_processed=%d status=%s engine_version=%s timestamp=%s",
		requestID,
		operation,
		duration,
		itemsProcessed,
		status,
		EngineVersion,
		timestamp(),
	)
}

// LogAuditEvent logs audit events for compliance and debugging
func (sl *SecurityLogger) LogAuditEvent(
	requestID string,
	action string,
	resource string,
	outcome string,
	details map[string]interface{},
) {
	sl.logger.Printf(
		"audit_event request_id=%s action=%s resource=%s outcome=%s details=%+v engine_version=%s timestamp=%s",
		requestID,
		action,
		resource,
		outcome,
		sanitizeContext(details),
		EngineVersion,
		timestamp(),
	)
}

// LogSystemStartup logs system startup information
func (sl *SecurityLogger) LogSystemStartup(addr string, config map[string]interface{}) {
	sl.logger.Printf(
		"system_startup addr=%s config=%+v engine_version=%s git_commit=%s build_time=%s timestamp=%s",
		addr,
		sanitizeContext(config),
		EngineVersion,
		GitCommit,
		BuildTime,
		timestamp(),
	)
}

// LogSystemShutdown logs system shutdown information
func (sl *SecurityLogger) LogSystemShutdown(reason string, uptime time.Duration) {
	sl.logger.Printf(
		"system_shutdown reason=%s uptime=%v engine_version=%s timestamp=%s",
		reason,
		uptime,
		EngineVersion,
		timestamp(),
	)
}

// hashSeed returns the first 16 hex chars of the SHA-256 of the seed's hex
// form.
func hashSeed(seed engine.Seed) string {
	hash := sha256.Sum256([]byte(seed.Hex()))
	return hex.EncodeToString(hash[:])[:16]
}

func hashSeedRef(seed *engine.Seed) string {
	if seed == nil {
		return "empty"
	}
	return hashSeed(*seed)
}

// sanitizeContext hashes seeds and redacts credentials before a map is logged.
func sanitizeContext(context map[string]interface{}) map[string]interface{} {
	if context == nil {
		return nil
	}

	sanitized := make(map[string]interface{}, len(context))
	for key, value := range context {
		switch key {
		case "seed", "base_seed":
			switch v := value.(type) {
			case engine.Seed:
				sanitized[key+"_hash"] = hashSeed(v)
			case *engine.Seed:
				sanitized[key+"_hash"] = hashSeedRef(v)
			case string:
				if s, err := engine.ParseSeed(v); err == nil {
					sanitized[key+"_hash"] = hashSeed(s)
				} else {
					sanitized[key+"_hash"] = "unparseable"
				}
			default:
				sanitized[key+"_hash"] = fmt.Sprintf("non_seed_value_%T", value)
			}
		case "token", "admin_token", "authorization", "secret", "password":
			sanitized[key] = "[REDACTED]"
		default:
			sanitized[key] = value
		}
	}
	return sanitized
}
