package fulfill

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/sony/gobreaker"
	"gorm.io/gorm"
)

func TestIsDuplicate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrDuplicateOrder, true},
		{"wrapped sentinel", fmt.Errorf("fulfill: %w", ErrDuplicateOrder), true},
		{"gorm translated", gorm.ErrDuplicatedKey, true},
		{"mysql 1062", &mysql.MySQLError{Number: 1062}, true},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, false},
		{"out of stock", ErrOutOfStock, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDuplicate(tt.err); got != tt.want {
				t.Errorf("IsDuplicate(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrTransientStore, true},
		{"wrapped sentinel", fmt.Errorf("store: %w", ErrTransientStore), true},
		{"deadline", context.DeadlineExceeded, true},
		{"bad conn", driver.ErrBadConn, true},
		{"breaker open", gobreaker.ErrOpenState, true},
		{"breaker half open", gobreaker.ErrTooManyRequests, true},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, true},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, false},
		{"out of stock", ErrOutOfStock, false},
		{"duplicate", ErrDuplicateOrder, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
