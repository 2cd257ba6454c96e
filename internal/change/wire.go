package change

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

// ErrMalformed is returned for payloads that can never be processed. Transports
// acknowledge such messages instead of requesting redelivery.
var ErrMalformed = errors.New("malformed change payload")

// DocumentAttribute, when set on a delivery, names the changed document and
// takes precedence over the name inside the payload.
const DocumentAttribute = "document"

// ContentTypeAttribute carries the payload media type on Pub/Sub messages.
const ContentTypeAttribute = "content-type"

// Field numbers of google.events.cloud.firestore.v1.DocumentEventData. Its
// Document and Value messages share the wire and JSON layout of firestorepb.
const (
	valueFieldNum    protowire.Number = 1
	oldValueFieldNum protowire.Number = 2
)

var jsonOptions = protojson.UnmarshalOptions{DiscardUnknown: true}

// ParsePayload decodes a document event delivered with the given content type
// and applies the document override when it is set.
func ParsePayload(data []byte, contentType, document string) (Notification, error) {
	var (
		n   Notification
		err error
	)
	if isProtobuf(contentType) {
		n, err = ParseDocumentEventProto(data)
	} else {
		n, err = ParseDocumentEvent(data)
	}
	if err != nil {
		return Notification{}, err
	}
	if document != "" {
		n.Document = RelativePath(document)
	}
	return n, nil
}

func isProtobuf(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/protobuf" || mt == "application/x-protobuf"
}

// ParseDocumentEvent decodes the JSON form of a Firestore document event.
func ParseDocumentEvent(data []byte) (Notification, error) {
	var raw struct {
		Value    json.RawMessage `json:"value"`
		OldValue json.RawMessage `json:"oldValue"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var after, before *firestorepb.Document
	var err error
	if after, err = unmarshalJSONDocument(raw.Value); err != nil {
		return Notification{}, fmt.Errorf("%w: value: %v", ErrMalformed, err)
	}
	if before, err = unmarshalJSONDocument(raw.OldValue); err != nil {
		return Notification{}, fmt.Errorf("%w: oldValue: %v", ErrMalformed, err)
	}
	return notificationOf(before, after)
}

func unmarshalJSONDocument(raw json.RawMessage) (*firestorepb.Document, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	doc := &firestorepb.Document{}
	if err := jsonOptions.Unmarshal(raw, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ParseDocumentEventProto decodes the binary protobuf form of a Firestore
// document event, the default Eventarc encoding.
func ParseDocumentEventProto(data []byte) (Notification, error) {
	var after, before *firestorepb.Document
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		if (num == valueFieldNum || num == oldValueFieldNum) && typ == protowire.BytesType {
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			data = data[n:]
			doc := &firestorepb.Document{}
			if err := proto.Unmarshal(b, doc); err != nil {
				return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			if num == valueFieldNum {
				after = doc
			} else {
				before = doc
			}
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return notificationOf(before, after)
}

// notificationOf builds a Notification from the two snapshots. A snapshot
// without a name describes an absent document.
func notificationOf(before, after *firestorepb.Document) (Notification, error) {
	var n Notification
	if name := before.GetName(); name != "" {
		n.Document = RelativePath(name)
		n.Before = fieldsOf(before.GetFields())
	}
	if name := after.GetName(); name != "" {
		n.Document = RelativePath(name)
		n.After = fieldsOf(after.GetFields())
	}
	if n.Document == "" {
		return Notification{}, fmt.Errorf("%w: no document name", ErrMalformed)
	}
	return n, nil
}

// RelativePath strips the "projects/{p}/databases/{d}/documents/" prefix from a
// fully-qualified document name. Subjects of the form "documents/{path}" are
// accepted too.
func RelativePath(name string) string {
	if i := strings.Index(name, "/documents/"); i >= 0 {
		return name[i+len("/documents/"):]
	}
	return strings.Trim(strings.TrimPrefix(name, "documents/"), "/")
}

func fieldsOf(values map[string]*firestorepb.Value) Fields {
	out := make(Fields, len(values))
	for k, v := range values {
		out[k] = valueOf(v)
	}
	return out
}

// valueOf converts one typed Firestore value to the Go types the Firestore
// client returns. Unknown kinds convert to nil.
func valueOf(v *firestorepb.Value) any {
	switch t := v.GetValueType().(type) {
	case *firestorepb.Value_BooleanValue:
		return t.BooleanValue
	case *firestorepb.Value_IntegerValue:
		return t.IntegerValue
	case *firestorepb.Value_DoubleValue:
		return t.DoubleValue
	case *firestorepb.Value_TimestampValue:
		return t.TimestampValue.AsTime()
	case *firestorepb.Value_StringValue:
		return t.StringValue
	case *firestorepb.Value_BytesValue:
		return t.BytesValue
	case *firestorepb.Value_ReferenceValue:
		return t.ReferenceValue
	case *firestorepb.Value_GeoPointValue:
		return map[string]any{
			"latitude":  t.GeoPointValue.GetLatitude(),
			"longitude": t.GeoPointValue.GetLongitude(),
		}
	case *firestorepb.Value_MapValue:
		return fieldsOf(t.MapValue.GetFields())
	case *firestorepb.Value_ArrayValue:
		out := make([]any, 0, len(t.ArrayValue.GetValues()))
		for _, item := range t.ArrayValue.GetValues() {
			out = append(out, valueOf(item))
		}
		return out
	default:
		return nil
	}
}
