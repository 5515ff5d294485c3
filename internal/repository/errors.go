package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrKeyUnavailable     = errors.New("key not found or already used")
	ErrReferralExists     = errors.New("referral already registered")
	ErrReferrerIneligible = errors.New("referrer missing or banned")
)

const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}
