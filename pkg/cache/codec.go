package cache

import (
	"bytes"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/platinummonkey/modhub/pkg/plugins"
)

// magic prefixes every encoded entry
var magic = []byte("MHC1")

// Entry-level field numbers
const fieldRecord protowire.Number = 1

// Record field numbers. Never renumber: entries written by older builds must still decode.
const (
	fieldID              protowire.Number = 1
	fieldFriendlyName    protowire.Number = 2
	fieldAuthor          protowire.Number = 3
	fieldDescription     protowire.Number = 4
	fieldTooltip         protowire.Number = 5
	fieldGroupID         protowire.Number = 6
	fieldKind            protowire.Number = 7
	fieldPayload         protowire.Number = 8
	fieldDeclaredVersion protowire.Number = 9
	fieldDependencies    protowire.Number = 10
	fieldOrigin          protowire.Number = 11
	fieldFiles           protowire.Number = 12
	fieldModule          protowire.Number = 13
	fieldRevision        protowire.Number = 14
	fieldBuild           protowire.Number = 15
)

// BuildStep field numbers
const (
	fieldBuildCommand protowire.Number = 1
	fieldBuildArgs    protowire.Number = 2
	fieldBuildTimeout protowire.Number = 3
)

// Marshal encodes records, tombstones included, into the compact cache format
func Marshal(records []*plugins.Record) []byte {
	b := append([]byte(nil), magic...)
	for _, rec := range records {
		b = protowire.AppendTag(b, fieldRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRecord(rec))
	}
	return b
}

// Unmarshal decodes an entry. Tombstone records are dropped and counted.
// Zero-length input returns ErrNoCache; anything undecodable returns ErrCorrupt.
func Unmarshal(data []byte) (records []*plugins.Record, tombstones int, err error) {
	if len(data) == 0 {
		return nil, 0, ErrNoCache
	}
	if !bytes.HasPrefix(data, magic) {
		return nil, 0, fmt.Errorf("%w: bad header", ErrCorrupt)
	}

	b := data[len(magic):]
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		if num != fieldRecord || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		rec, err := unmarshalRecord(msg)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: record %d: %v", ErrCorrupt, len(records)+tombstones, err)
		}
		if rec.Kind == plugins.KindObsolete {
			tombstones++
			continue
		}
		records = append(records, rec)
	}

	return records, tombstones, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendStrings(b []byte, num protowire.Number, items []string) []byte {
	for _, s := range items {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func marshalRecord(rec *plugins.Record) []byte {
	var b []byte
	b = appendString(b, fieldID, rec.ID)
	b = appendString(b, fieldFriendlyName, rec.FriendlyName)
	b = appendString(b, fieldAuthor, rec.Author)
	b = appendString(b, fieldDescription, rec.Description)
	b = appendString(b, fieldTooltip, rec.Tooltip)
	b = appendString(b, fieldGroupID, rec.GroupID)
	b = appendVarint(b, fieldKind, uint64(rec.Kind))
	b = appendVarint(b, fieldPayload, uint64(rec.Payload))
	b = appendString(b, fieldDeclaredVersion, rec.DeclaredVersion)
	b = appendStrings(b, fieldDependencies, rec.Dependencies)
	b = appendString(b, fieldOrigin, rec.Origin)
	b = appendStrings(b, fieldFiles, rec.Files)
	b = appendString(b, fieldModule, rec.Module)
	b = appendString(b, fieldRevision, rec.Revision)
	if rec.Build != nil {
		var sb []byte
		sb = appendString(sb, fieldBuildCommand, rec.Build.Command)
		sb = appendStrings(sb, fieldBuildArgs, rec.Build.Args)
		sb = appendVarint(sb, fieldBuildTimeout, uint64(rec.Build.Timeout))
		b = protowire.AppendTag(b, fieldBuild, protowire.BytesType)
		b = protowire.AppendBytes(b, sb)
	}
	return b
}

func unmarshalRecord(b []byte) (*plugins.Record, error) {
	rec := &plugins.Record{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldKind || num == fieldPayload):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			if num == fieldKind {
				rec.Kind = plugins.Kind(v)
			} else {
				rec.Payload = plugins.Kind(v)
			}

		case typ == protowire.BytesType && num == fieldBuild:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			step, err := unmarshalBuildStep(v)
			if err != nil {
				return nil, fmt.Errorf("build: %w", err)
			}
			rec.Build = step

		case typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			setRecordString(rec, num, v)

		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}

	if rec.ID == "" {
		return nil, fmt.Errorf("record without id")
	}
	switch rec.Kind {
	case plugins.KindSource, plugins.KindPrebuilt, plugins.KindExternal, plugins.KindObsolete:
	default:
		return nil, fmt.Errorf("record %q: unknown kind %d", rec.ID, int(rec.Kind))
	}
	return rec, nil
}

func setRecordString(rec *plugins.Record, num protowire.Number, v string) {
	switch num {
	case fieldID:
		rec.ID = v
	case fieldFriendlyName:
		rec.FriendlyName = v
	case fieldAuthor:
		rec.Author = v
	case fieldDescription:
		rec.Description = v
	case fieldTooltip:
		rec.Tooltip = v
	case fieldGroupID:
		rec.GroupID = v
	case fieldDeclaredVersion:
		rec.DeclaredVersion = v
	case fieldDependencies:
		rec.Dependencies = append(rec.Dependencies, v)
	case fieldOrigin:
		rec.Origin = v
	case fieldFiles:
		rec.Files = append(rec.Files, v)
	case fieldModule:
		rec.Module = v
	case fieldRevision:
		rec.Revision = v
	}
}

func unmarshalBuildStep(b []byte) (*plugins.BuildStep, error) {
	step := &plugins.BuildStep{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldBuildTimeout && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			step.Timeout = time.Duration(v)
		case (num == fieldBuildCommand || num == fieldBuildArgs) && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			if num == fieldBuildCommand {
				step.Command = v
			} else {
				step.Args = append(step.Args, v)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return step, nil
}
