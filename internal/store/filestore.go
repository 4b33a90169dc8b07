package store

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// FileStore persists the mapping as a JSON document plus a CSV mirror.
// The JSON file is the durable primary; the CSV is regenerated in full on
// every save for human inspection and is never read back.
type FileStore struct {
	jsonPath string
	csvPath  string
	logger   *logrus.Logger
}

// NewFileStore creates a file-backed mapping store
func NewFileStore(jsonPath, csvPath string, logger *logrus.Logger) (*FileStore, error) {
	if jsonPath == "" {
		return nil, fmt.Errorf("mapping path is required")
	}
	if csvPath == "" {
		return nil, fmt.Errorf("mapping mirror path is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &FileStore{
		jsonPath: jsonPath,
		csvPath:  csvPath,
		logger:   logger,
	}, nil
}

// Load reads the mapping from the primary JSON file. A missing file yields
// an empty mapping; so does an unreadable or corrupt one, after logging.
// An unreadable file can cause an already-provisioned identifier to be
// provisioned again; that is an accepted risk, not silently corrected.
func (s *FileStore) Load() *Mapping {
	data, err := os.ReadFile(s.jsonPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).WithField("path", s.jsonPath).Error("Failed to read device mapping")
		}
		return NewMapping()
	}

	mapping := NewMapping()
	if err := json.Unmarshal(data, mapping); err != nil {
		s.logger.WithError(err).WithField("path", s.jsonPath).Error("Failed to parse device mapping")
		return NewMapping()
	}

	return mapping
}

// Save writes the full mapping to the JSON file, then rewrites the CSV
// mirror. Neither write is atomic; the whole mapping is serialized each time.
func (s *FileStore) Save(m *Mapping) error {
	if err := s.writeJSON(m); err != nil {
		return fmt.Errorf("failed to save device mapping: %w", err)
	}

	if err := s.writeCSV(m); err != nil {
		return fmt.Errorf("failed to save device mapping mirror: %w", err)
	}

	s.logger.WithField("devices", m.Len()).Debug("Device mapping saved")
	return nil
}

func (s *FileStore) writeJSON(m *Mapping) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "    "); err != nil {
		return err
	}
	pretty.WriteByte('\n')

	if err := os.MkdirAll(filepath.Dir(s.jsonPath), 0755); err != nil {
		return err
	}

	return os.WriteFile(s.jsonPath, pretty.Bytes(), 0600)
}

func (s *FileStore) writeCSV(m *Mapping) error {
	if err := os.MkdirAll(filepath.Dir(s.csvPath), 0755); err != nil {
		return err
	}

	file, err := os.OpenFile(s.csvPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"project_id", "access_token"}); err != nil {
		return err
	}

	for _, projectID := range m.ProjectIDs() {
		credential, _ := m.Get(projectID)
		if err := writer.Write([]string{projectID, credential}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
