package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
)

const (
	bucketProcessing = "processing"
	bucketReceipts   = "receipts"
	bucketWebhooks   = "webhooks"
)

var buckets = []string{bucketProcessing, bucketReceipts, bucketWebhooks}

// kv is the raw key/value surface a backend transaction exposes per bucket
type kv interface {
	get(bucket, key string) ([]byte, error)
	put(bucket, key string, value []byte) error
	del(bucket, key string) error
	forEach(bucket string, fn func(key string, value []byte) error) error
}

// backend runs read-only and read-write transactions. A write transaction whose callback
// returns an error leaves no trace.
type backend interface {
	view(fn func(tx txn) error) error
	update(fn func(tx txn) error) error
	close() error
}

// txn decodes ledger values on top of a kv transaction. Values are JSON; a value that
// fails to decode is reported, never treated as absent.
type txn struct {
	kv kv
}

func decode[T any](bucket, key string, raw []byte) (*T, error) {
	if raw == nil {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("corrupt %s entry %q: %w", bucket, key, err)
	}
	return &v, nil
}

func (t txn) putJSON(bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.kv.put(bucket, key, data)
}

func (t txn) lookup(bucket, key string) ([]byte, error) {
	raw, err := t.kv.get(bucket, key)
	if err != nil {
		return nil, fmt.Errorf("read %s entry %q: %w", bucket, key, err)
	}
	return raw, nil
}

func (t txn) record(id domain.OrderID) (*domain.ProcessingRecord, error) {
	raw, err := t.lookup(bucketProcessing, id.String())
	if err != nil {
		return nil, err
	}
	return decode[domain.ProcessingRecord](bucketProcessing, id.String(), raw)
}

func (t txn) putRecord(rec *domain.ProcessingRecord) error {
	return t.putJSON(bucketProcessing, rec.OrderID.String(), rec)
}

func (t txn) forEachRecord(fn func(rec *domain.ProcessingRecord) error) error {
	return t.kv.forEach(bucketProcessing, func(key string, value []byte) error {
		rec, err := decode[domain.ProcessingRecord](bucketProcessing, key, value)
		if err != nil {
			return err
		}
		return fn(rec)
	})
}

func (t txn) receipt(id domain.OrderID) (*domain.ReceiptRecord, error) {
	raw, err := t.lookup(bucketReceipts, id.String())
	if err != nil {
		return nil, err
	}
	return decode[domain.ReceiptRecord](bucketReceipts, id.String(), raw)
}

func (t txn) putReceipt(rec *domain.ReceiptRecord) error {
	return t.putJSON(bucketReceipts, rec.OrderID.String(), rec)
}

func (t txn) webhook(fingerprint string) (*domain.WebhookRecord, error) {
	raw, err := t.lookup(bucketWebhooks, fingerprint)
	if err != nil {
		return nil, err
	}
	return decode[domain.WebhookRecord](bucketWebhooks, fingerprint, raw)
}

func (t txn) putWebhook(rec *domain.WebhookRecord) error {
	return t.putJSON(bucketWebhooks, rec.Fingerprint, rec)
}

func (t txn) deleteWebhook(fingerprint string) error {
	return t.kv.del(bucketWebhooks, fingerprint)
}

func (t txn) forEachWebhook(fn func(rec *domain.WebhookRecord) error) error {
	return t.kv.forEach(bucketWebhooks, func(key string, value []byte) error {
		rec, err := decode[domain.WebhookRecord](bucketWebhooks, key, value)
		if err != nil {
			return err
		}
		return fn(rec)
	})
}
