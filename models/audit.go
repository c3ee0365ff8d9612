package models

import (
	"time"
)

type AuditEvent struct {
	OrderUUID string      `json:"order_uuid"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Actor     Actor       `json:"actor"`
	At        time.Time   `json:"at"`
}
