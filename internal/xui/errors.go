package xui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Remote panel databases are operated by third parties; the two
// failure modes worth translating into actionable guidance are a user
// without remote-host grants and a server demanding SSL it cannot
// actually negotiate.

var sslErrorCodes = map[uint16]bool{2026: true, 3159: true}

var sslErrorPatterns = []string{
	"ssl is required",
	"requires ssl",
	"ssl connection error",
}

var accessDeniedCodes = map[uint16]bool{1045: true}

var accessDeniedPatterns = []string{"access denied for user"}

// AccessDeniedError means the remote MySQL server rejected the login,
// usually because the panel user lacks a grant for this host.
type AccessDeniedError struct {
	Host     string
	User     string
	Database string
}

func (e *AccessDeniedError) Error() string {
	user := strings.TrimSpace(e.User)
	if user == "" {
		user = "user"
	}
	db := strings.TrimSpace(e.Database)
	if db == "" {
		db = "xui"
	}
	return fmt.Sprintf(
		"remote database refused access: user %s cannot connect from this server; "+
			"ask the database owner to run: GRANT ALL PRIVILEGES ON %s.* TO '%s'@'%%' IDENTIFIED BY '<password>'; FLUSH PRIVILEGES;",
		user, db, user)
}

// SSLMisconfigurationError means the remote server requires SSL but
// cannot complete the handshake.
type SSLMisconfigurationError struct {
	Host string
	User string
}

func (e *SSLMisconfigurationError) Error() string {
	return "remote MySQL server requires an SSL connection but SSL is not working; " +
		"ask the database owner to fix SSL support or drop the REQUIRE SSL constraint"
}

// IsAccessDenied matches an already-classified AccessDeniedError, or
// walks the error chain looking for MySQL error 1045 or an
// access-denied message.
func IsAccessDenied(err error) bool {
	var typed *AccessDeniedError
	if errors.As(err, &typed) {
		return true
	}
	return matchChain(err, accessDeniedCodes, accessDeniedPatterns)
}

// IsSSLMisconfiguration matches an already-classified
// SSLMisconfigurationError, or walks the error chain looking for the
// SSL handshake error codes and messages MySQL emits for broken SSL
// requirements.
func IsSSLMisconfiguration(err error) bool {
	var typed *SSLMisconfigurationError
	if errors.As(err, &typed) {
		return true
	}
	return matchChain(err, sslErrorCodes, sslErrorPatterns)
}

func matchChain(err error, codes map[uint16]bool, patterns []string) bool {
	for err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && codes[mysqlErr.Number] {
			return true
		}
		msg := strings.ToLower(err.Error())
		for _, p := range patterns {
			if strings.Contains(msg, p) {
				return true
			}
		}
		err = errors.Unwrap(err)
	}
	return false
}

// ClassifyConnError maps low-level connection failures to the typed
// errors above, passing anything else through unchanged.
func ClassifyConnError(err error, host, user, database string) error {
	if err == nil {
		return nil
	}
	if IsSSLMisconfiguration(err) {
		return &SSLMisconfigurationError{Host: host, User: user}
	}
	if IsAccessDenied(err) {
		return &AccessDeniedError{Host: host, User: user, Database: database}
	}
	return err
}
