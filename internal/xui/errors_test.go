package xui

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAccessDenied(t *testing.T) {
	byCode := &mysql.MySQLError{Number: 1045, Message: "nope"}
	assert.True(t, IsAccessDenied(byCode))
	assert.True(t, IsAccessDenied(fmt.Errorf("connect: %w", byCode)))

	byMessage := errors.New("Access denied for user 'xui'@'10.0.0.1'")
	assert.True(t, IsAccessDenied(byMessage))

	assert.False(t, IsAccessDenied(errors.New("connection refused")))
	assert.False(t, IsAccessDenied(nil))
}

func TestIsSSLMisconfiguration(t *testing.T) {
	assert.True(t, IsSSLMisconfiguration(&mysql.MySQLError{Number: 3159, Message: "x"}))
	assert.True(t, IsSSLMisconfiguration(&mysql.MySQLError{Number: 2026, Message: "x"}))
	assert.True(t, IsSSLMisconfiguration(errors.New("SSL is required but the server doesn't support it")))
	assert.True(t, IsSSLMisconfiguration(fmt.Errorf("dial: %w", errors.New("SSL connection error: protocol version mismatch"))))
	assert.False(t, IsSSLMisconfiguration(errors.New("access denied for user")))
}

func TestPredicatesMatchClassifiedErrors(t *testing.T) {
	// Once classified, an error must keep satisfying its own predicate,
	// including through later wrapping.
	denied := ClassifyConnError(&mysql.MySQLError{Number: 1045, Message: "denied"}, "h", "u", "d")
	assert.True(t, IsAccessDenied(denied))
	assert.True(t, IsAccessDenied(fmt.Errorf("ping: %w", denied)))
	assert.False(t, IsSSLMisconfiguration(denied))

	ssl := ClassifyConnError(&mysql.MySQLError{Number: 2026, Message: "ssl"}, "h", "u", "d")
	assert.True(t, IsSSLMisconfiguration(ssl))
	assert.True(t, IsSSLMisconfiguration(fmt.Errorf("ping: %w", ssl)))
	assert.False(t, IsAccessDenied(ssl))
}

func TestClassifyConnError(t *testing.T) {
	err := ClassifyConnError(&mysql.MySQLError{Number: 1045, Message: "denied"}, "db.example.com", "xui_user", "xui")
	var denied *AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "xui_user", denied.User)
	assert.Contains(t, denied.Error(), "GRANT ALL PRIVILEGES ON xui.* TO 'xui_user'@'%'")

	err = ClassifyConnError(&mysql.MySQLError{Number: 2026, Message: "ssl"}, "db.example.com", "xui_user", "xui")
	var ssl *SSLMisconfigurationError
	require.ErrorAs(t, err, &ssl)
	assert.Equal(t, "db.example.com", ssl.Host)

	plain := errors.New("timeout")
	assert.Equal(t, plain, ClassifyConnError(plain, "h", "u", "d"))
	assert.NoError(t, ClassifyConnError(nil, "h", "u", "d"))
}
