package models

import "time"

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
