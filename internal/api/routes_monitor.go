package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ember-project/ember/internal/util"
)

// handlePlayers lists the online players.
func (s *Server) handlePlayers(c *gin.Context) {
	ctx, cancel := tickContext(c)
	defer cancel()

	players, err := s.engine.Players(ctx)
	if err != nil {
		tickError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"total":   len(players),
	})
}

// handleTick returns the cycle timings.
func (s *Server) handleTick(c *gin.Context) {
	stats := s.engine.Monitor().Stats()
	c.JSON(http.StatusOK, gin.H{
		"stats": stats,
		"alert": s.engine.Monitor().CheckThresholds(time.Now()),
	})
}

// handleOverloads returns the most recent overloaded cycles.
func (s *Server) handleOverloads(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "100"))
	if err != nil || count < 1 {
		count = 100
	}

	history := s.engine.Monitor().History()
	if len(history) > count {
		history = history[len(history)-count:]
	}
	c.JSON(http.StatusOK, gin.H{
		"overloads": history,
		"count":     len(history),
	})
}

// handleCPUUsage returns current system CPU usage.
func (s *Server) handleCPUUsage(c *gin.Context) {
	usage, err := util.GetCPUUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cpu_percent": usage,
	})
}

// handleMemoryUsage returns system and process memory usage.
func (s *Server) handleMemoryUsage(c *gin.Context) {
	mem, err := util.GetMemoryUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"total_mb":     mem.Total,
		"used_mb":      mem.Used,
		"available_mb": mem.Available,
		"used_percent": mem.UsedPercent,
	}
	if proc, err := util.GetProcessUsage(); err == nil {
		resp["process"] = proc
	}
	c.JSON(http.StatusOK, resp)
}

// handleLogEntries returns recent log entries.
func (s *Server) handleLogEntries(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "100"))
	if err != nil || count < 1 {
		count = 100
	}
	if count > 1000 {
		count = 1000
	}

	logDir := s.cfg.GetApplicationData().Logging.Directory
	entries, err := readRecentLogEntries(logDir, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// logEntry is one parsed zerolog line.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Keys every zerolog line carries; the rest go into Fields.
var logBaseKeys = map[string]bool{
	"level": true, "time": true, "message": true, "caller": true, "app": true,
}

// newestLogFile returns the most recently written .log file in logDir.
func newestLogFile(logDir string) (string, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return "", err
	}

	var newest string
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(logDir, e.Name())
			newestMod = info.ModTime()
		}
	}
	return newest, nil
}

// readRecentLogEntries parses the last count lines of the newest log file.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	path, err := newestLogFile(logDir)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return []logEntry{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Ring of the last count non-empty lines.
	ring := make([]string, 0, count)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(ring) == count {
			ring = ring[1:]
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	result := make([]logEntry, 0, len(ring))
	for _, line := range ring {
		result = append(result, parseLogLine(line))
	}
	return result, nil
}

func parseLogLine(line string) logEntry {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return logEntry{Message: line}
	}

	entry := logEntry{
		Timestamp: stringFromMap(raw, "time"),
		Level:     stringFromMap(raw, "level"),
		Message:   stringFromMap(raw, "message"),
	}
	for k, v := range raw {
		if logBaseKeys[k] {
			continue
		}
		if entry.Fields == nil {
			entry.Fields = make(map[string]interface{})
		}
		entry.Fields[k] = v
	}
	return entry
}

// stringFromMap extracts a string value from a map, returning "" if missing.
func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
