package util

import (
	"bytes"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestFieldHook(t *testing.T) {
	var buf bytes.Buffer
	l := log.New()
	l.SetOutput(&buf)
	l.SetFormatter(&log.JSONFormatter{})
	l.AddHook(&FieldHook{Fields: log.Fields{"session": "abc"}})

	l.Info("hello")
	assert.Contains(t, buf.String(), `"session":"abc"`)

	buf.Reset()
	l.WithField("session", "override").Info("hello")
	assert.Contains(t, buf.String(), `"session":"override"`)
}
