package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
)

// a single claimed message, independent of the queue backend
type QueueMessage struct {
	ID            string
	ReceiptHandle string
	// deliveries so far, including this one
	ReceiveCount int
	Body         []byte
}

// bucket and key of one uploaded object, Key as delivered in the notification
type ObjectLocation struct {
	Bucket string
	Key    string
}

func (o ObjectLocation) String() string {
	return o.Bucket + "/" + o.Key
}

// DecodedKey undoes the form encoding applied to keys in S3 notifications,
// so "a%2Fb+c.tsv" becomes "a/b c.tsv".
func (o ObjectLocation) DecodedKey() (string, error) {
	return url.QueryUnescape(o.Key)
}

// one cleaned title row, nil pointers mean no value
type Record struct {
	ID             string
	Kind           *string
	PrimaryName    *string
	AltName        *string
	IsAdult        *bool
	StartYear      *int
	EndYear        *int
	RuntimeMinutes *int
	Genres         []string
}

// outcome of one pipeline attempt, Err is nil on success
type Result struct {
	Location  ObjectLocation
	Written   int
	Duplicate bool
	Err       error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// parseNotification extracts the object location from an S3 event body. Only
// the first record is consulted.
func parseNotification(body []byte) (ObjectLocation, error) {
	var event events.S3Event
	if err := json.Unmarshal(body, &event); err != nil {
		return ObjectLocation{}, &ParseError{Stage: "notification", Err: err}
	}
	if len(event.Records) == 0 {
		return ObjectLocation{}, &ParseError{Stage: "notification", Err: fmt.Errorf("no records in notification")}
	}

	entity := event.Records[0].S3
	if entity.Bucket.Name == "" || entity.Object.Key == "" {
		return ObjectLocation{}, &ParseError{Stage: "notification", Err: fmt.Errorf("missing bucket or key")}
	}

	return ObjectLocation{Bucket: entity.Bucket.Name, Key: entity.Object.Key}, nil
}
