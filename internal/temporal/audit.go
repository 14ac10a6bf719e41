package temporal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditRecord 单条审计记录。只追加，不修改。
type AuditRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	SessionID       string    `json:"session_id"`
	AnalysisDate    time.Time `json:"analysis_date"`
	DataSource      string    `json:"data_source"`
	DataTimestamp   time.Time `json:"data_timestamp"`
	IsCompliant     bool      `json:"is_compliant"`
	ViolationDetail string    `json:"violation_detail"`
	CallerModule    string    `json:"caller_module"`
}

// AuditLogger 以 JSONL 追加写的审计日志。
// 实例由调用方显式构造并注入，不做进程级单例。
type AuditLogger struct {
	path string
	mu   sync.Mutex
}

func NewAuditLogger(path string) (*AuditLogger, error) {
	if path == "" {
		path = filepath.Join("data", "logs", "temporal_audit.jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &AuditLogger{path: path}, nil
}

// Log 追加一条审计记录。
func (l *AuditLogger) Log(rec AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// ViolationCount 返回指定会话的违规记录数量。
func (l *AuditLogger) ViolationCount(sessionID string) (int, error) {
	records, err := l.SessionRecords(sessionID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range records {
		if !rec.IsCompliant {
			count++
		}
	}
	return count, nil
}

// SessionRecords 返回指定会话的全部审计记录（按写入顺序）。
func (l *AuditLogger) SessionRecords(sessionID string) ([]AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []AuditRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			// 坏行跳过，审计读取不因单行损坏而失败
			continue
		}
		if rec.SessionID == sessionID {
			records = append(records, rec)
		}
	}
	return records, scanner.Err()
}
