package mail

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMTPMailer_Send(t *testing.T) {
	m := NewSMTPMailer(Config{Host: "smtp.example.com", Port: "587", User: "lab@example.com", Password: "pw"})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		assert.NotNil(t, a)
		return nil
	}

	err := m.Send(context.Background(), "taro@example.com", "Password reset", "line one\nline two")
	assert.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "lab@example.com", gotFrom)
	assert.Equal(t, []string{"taro@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Password reset\r\n")
	assert.Contains(t, string(gotMsg), "line one\r\nline two")
}

func TestSMTPMailer_SendError(t *testing.T) {
	m := NewSMTPMailer(Config{Host: "smtp.example.com", Port: "25"})
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }

	err := m.Send(context.Background(), "taro@example.com", "s", "b")
	assert.ErrorContains(t, err, "connection refused")
}

func TestSMTPMailer_NoHost(t *testing.T) {
	m := NewSMTPMailer(Config{})
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called without a host")
		return nil
	}
	assert.NoError(t, m.Send(context.Background(), "taro@example.com", "s", "b"))
}
