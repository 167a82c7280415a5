package util

import (
	log "github.com/sirupsen/logrus"
)

// FieldHook adds fixed fields to every log entry that does not already set
// them.
type FieldHook struct {
	Fields log.Fields
}

func (h *FieldHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *FieldHook) Fire(e *log.Entry) error {
	for k, v := range h.Fields {
		if _, ok := e.Data[k]; !ok {
			e.Data[k] = v
		}
	}
	return nil
}
