package wire

import "google.golang.org/protobuf/encoding/protowire"

// Field numbers, assigned once per message type and never reused across revisions.

func marshalBind(m *Bind) []byte {
	var b []byte
	b = appendUint64(b, 1, m.SessionIdent)
	b = appendString(b, 2, m.Path)
	b = appendString(b, 3, m.AccessToken)
	b = appendBool(b, 4, m.IsFlx)
	b = appendString(b, 5, m.PartitionKey)
	b = appendString(b, 6, m.ProtocolToken)
	return b
}

func unmarshalBind(body []byte) (*Bind, error) {
	m := &Bind{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		case 2:
			v, n, err := consumeBytes(b)
			m.Path = string(v)
			return n, err
		case 3:
			v, n, err := consumeBytes(b)
			m.AccessToken = string(v)
			return n, err
		case 4:
			v, n, err := consumeVarint(b)
			m.IsFlx = v != 0
			return n, err
		case 5:
			v, n, err := consumeBytes(b)
			m.PartitionKey = string(v)
			return n, err
		case 6:
			v, n, err := consumeBytes(b)
			m.ProtocolToken = string(v)
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalIdentRequest(m *IdentRequest) []byte {
	var b []byte
	b = appendUint64(b, 1, m.SessionIdent)
	b = appendUint64(b, 2, m.ClientIdent)
	b = appendInt64(b, 3, m.ClientSalt)
	return b
}

func unmarshalIdentRequest(body []byte) (*IdentRequest, error) {
	m := &IdentRequest{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		case 2:
			v, n, err := consumeVarint(b)
			m.ClientIdent = v
			return n, err
		case 3:
			v, n, err := consumeVarint(b)
			m.ClientSalt = protowire.DecodeZigZag(v)
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalIdentResponse(m *IdentResponse) []byte {
	var b []byte
	b = appendUint64(b, 1, m.SessionIdent)
	b = appendUint64(b, 2, m.ClientIdent)
	b = appendInt64(b, 3, m.ClientSalt)
	return b
}

func unmarshalIdentResponse(body []byte) (*IdentResponse, error) {
	m := &IdentResponse{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		case 2:
			v, n, err := consumeVarint(b)
			m.ClientIdent = v
			return n, err
		case 3:
			v, n, err := consumeVarint(b)
			m.ClientSalt = protowire.DecodeZigZag(v)
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalChangeset(c Changeset) []byte {
	var b []byte
	b = appendUint64(b, 1, c.OriginFileIdent)
	b = appendUint64(b, 2, uint64(c.ServerVersion))
	b = appendUint64(b, 3, uint64(c.ClientVersion))
	b = appendInt64(b, 4, c.Timestamp)
	b = appendBytes(b, 5, c.Data)
	return b
}

func unmarshalChangeset(body []byte) (Changeset, error) {
	var c Changeset
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			c.OriginFileIdent = v
			return n, err
		case 2:
			v, n, err := consumeVarint(b)
			c.ServerVersion = ServerVersion(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(b)
			c.ClientVersion = ClientVersion(v)
			return n, err
		case 4:
			v, n, err := consumeVarint(b)
			c.Timestamp = protowire.DecodeZigZag(v)
			return n, err
		case 5:
			v, n, err := consumeBytes(b)
			c.Data = append([]byte{}, v...)
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return c, err
}

func marshalUpload(m *Upload) []byte {
	var b []byte
	b = appendUint64(b, 1, m.SessionIdent)
	b = appendUint64(b, 2, uint64(m.ProgressClientVersion))
	b = appendUint64(b, 3, uint64(m.ProgressServerVersion))
	for _, c := range m.Changesets {
		b = appendBytes(b, 4, marshalChangeset(c))
	}
	return b
}

func unmarshalUpload(body []byte) (*Upload, error) {
	m := &Upload{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		case 2:
			v, n, err := consumeVarint(b)
			m.ProgressClientVersion = ClientVersion(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(b)
			m.ProgressServerVersion = ServerVersion(v)
			return n, err
		case 4:
			v, n, err := consumeBytes(b)
			if err != nil {
				return n, err
			}
			c, err := unmarshalChangeset(v)
			if err != nil {
				return n, err
			}
			m.Changesets = append(m.Changesets, c)
			return n, nil
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalQuery(m *Query) []byte {
	var b []byte
	b = appendUint64(b, 1, m.SessionIdent)
	b = appendUint64(b, 2, m.QueryVersion)
	b = appendBytes(b, 3, m.QueryBody)
	return b
}

func unmarshalQuery(body []byte) (*Query, error) {
	m := &Query{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		case 2:
			v, n, err := consumeVarint(b)
			m.QueryVersion = v
			return n, err
		case 3:
			v, n, err := consumeBytes(b)
			m.QueryBody = append([]byte{}, v...)
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalDownload(m *Download) []byte {
	var b []byte
	b = appendUint64(b, 1, m.SessionIdent)
	b = appendUint64(b, 2, uint64(m.DownloadServerVersion))
	b = appendUint64(b, 3, uint64(m.DownloadLastIntegratedClientVersion))
	b = appendUint64(b, 4, uint64(m.UploadClientVersion))
	b = appendUint64(b, 5, uint64(m.UploadLastIntegratedServerVersion))
	b = appendUint64(b, 6, uint64(m.LatestServerVersion.Version))
	b = appendInt64(b, 7, m.LatestServerVersion.Salt)
	b = appendUint64(b, 8, m.DownloadableBytes)
	b = appendBool(b, 9, m.LastInBatch)
	b = appendUint64(b, 10, m.QueryVersion)
	for _, c := range m.Changesets {
		b = appendBytes(b, 11, marshalChangeset(c))
	}
	return b
}

func unmarshalDownload(body []byte) (*Download, error) {
	m := &Download{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		case 2:
			v, n, err := consumeVarint(b)
			m.DownloadServerVersion = ServerVersion(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(b)
			m.DownloadLastIntegratedClientVersion = ClientVersion(v)
			return n, err
		case 4:
			v, n, err := consumeVarint(b)
			m.UploadClientVersion = ClientVersion(v)
			return n, err
		case 5:
			v, n, err := consumeVarint(b)
			m.UploadLastIntegratedServerVersion = ServerVersion(v)
			return n, err
		case 6:
			v, n, err := consumeVarint(b)
			m.LatestServerVersion.Version = ServerVersion(v)
			return n, err
		case 7:
			v, n, err := consumeVarint(b)
			m.LatestServerVersion.Salt = protowire.DecodeZigZag(v)
			return n, err
		case 8:
			v, n, err := consumeVarint(b)
			m.DownloadableBytes = v
			return n, err
		case 9:
			v, n, err := consumeVarint(b)
			m.LastInBatch = v != 0
			return n, err
		case 10:
			v, n, err := consumeVarint(b)
			m.QueryVersion = v
			return n, err
		case 11:
			v, n, err := consumeBytes(b)
			if err != nil {
				return n, err
			}
			c, err := unmarshalChangeset(v)
			if err != nil {
				return n, err
			}
			m.Changesets = append(m.Changesets, c)
			return n, nil
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalMark(m *Mark) []byte {
	var b []byte
	b = appendUint64(b, 1, m.SessionIdent)
	b = appendUint64(b, 2, m.RequestIdent)
	return b
}

func unmarshalMark(body []byte) (*Mark, error) {
	m := &Mark{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		case 2:
			v, n, err := consumeVarint(b)
			m.RequestIdent = v
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalMarkAck(m *MarkAck) []byte {
	var b []byte
	b = appendUint64(b, 1, m.SessionIdent)
	b = appendUint64(b, 2, m.RequestIdent)
	return b
}

func unmarshalMarkAck(body []byte) (*MarkAck, error) {
	m := &MarkAck{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		case 2:
			v, n, err := consumeVarint(b)
			m.RequestIdent = v
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalUnbind(m *Unbind) []byte {
	return appendUint64(nil, 1, m.SessionIdent)
}

func unmarshalUnbind(body []byte) (*Unbind, error) {
	m := &Unbind{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalUnbound(m *Unbound) []byte {
	return appendUint64(nil, 1, m.SessionIdent)
}

func unmarshalUnbound(body []byte) (*Unbound, error) {
	m := &Unbound{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalPing(m *Ping) []byte {
	return appendInt64(nil, 1, m.TimestampNanos)
}

func unmarshalPing(body []byte) (*Ping, error) {
	m := &Ping{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.TimestampNanos = protowire.DecodeZigZag(v)
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalPong(m *Pong) []byte {
	return appendInt64(nil, 1, m.TimestampNanos)
}

func unmarshalPong(body []byte) (*Pong, error) {
	m := &Pong{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.TimestampNanos = protowire.DecodeZigZag(v)
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalResumptionDelay(r *ResumptionDelayInfo) []byte {
	var b []byte
	b = appendInt64(b, 1, r.InitialMillis)
	b = appendFloat64(b, 2, r.Multiplier)
	b = appendInt64(b, 3, r.CapMillis)
	return b
}

func unmarshalResumptionDelay(body []byte) (*ResumptionDelayInfo, error) {
	r := &ResumptionDelayInfo{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			r.InitialMillis = protowire.DecodeZigZag(v)
			return n, err
		case 2:
			v, n, err := consumeFixed64(b)
			r.Multiplier = bitsToFloat64(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(b)
			r.CapMillis = protowire.DecodeZigZag(v)
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return r, err
}

func marshalError(m *Error) []byte {
	var b []byte
	b = appendUint64(b, 1, m.SessionIdent)
	b = appendInt64(b, 2, int64(m.RawErrorCode))
	b = appendString(b, 3, m.Message)
	b = appendBool(b, 4, m.TryAgain)
	b = appendInt64(b, 5, int64(m.Action))
	if m.ResumptionDelay != nil {
		b = appendBytes(b, 6, marshalResumptionDelay(m.ResumptionDelay))
	}
	return b
}

func unmarshalError(body []byte) (*Error, error) {
	m := &Error{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		case 2:
			v, n, err := consumeVarint(b)
			m.RawErrorCode = int32(protowire.DecodeZigZag(v))
			return n, err
		case 3:
			v, n, err := consumeBytes(b)
			m.Message = string(v)
			return n, err
		case 4:
			v, n, err := consumeVarint(b)
			m.TryAgain = v != 0
			return n, err
		case 5:
			v, n, err := consumeVarint(b)
			m.Action = ErrorAction(protowire.DecodeZigZag(v))
			return n, err
		case 6:
			v, n, err := consumeBytes(b)
			if err != nil {
				return n, err
			}
			r, err := unmarshalResumptionDelay(v)
			if err != nil {
				return n, err
			}
			m.ResumptionDelay = r
			return n, nil
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalQueryError(m *QueryError) []byte {
	var b []byte
	b = appendUint64(b, 1, m.SessionIdent)
	b = appendUint64(b, 2, m.QueryVersion)
	b = appendInt64(b, 3, int64(m.ErrorCode))
	b = appendString(b, 4, m.Message)
	return b
}

func unmarshalQueryError(body []byte) (*QueryError, error) {
	m := &QueryError{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		case 2:
			v, n, err := consumeVarint(b)
			m.QueryVersion = v
			return n, err
		case 3:
			v, n, err := consumeVarint(b)
			m.ErrorCode = int32(protowire.DecodeZigZag(v))
			return n, err
		case 4:
			v, n, err := consumeBytes(b)
			m.Message = string(v)
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalTestCommand(m *TestCommand) []byte {
	var b []byte
	b = appendUint64(b, 1, m.SessionIdent)
	b = appendUint64(b, 2, m.RequestIdent)
	b = appendBytes(b, 3, m.Body)
	return b
}

func unmarshalTestCommand(body []byte) (*TestCommand, error) {
	m := &TestCommand{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		case 2:
			v, n, err := consumeVarint(b)
			m.RequestIdent = v
			return n, err
		case 3:
			v, n, err := consumeBytes(b)
			m.Body = append([]byte{}, v...)
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func marshalTestCommandReply(m *TestCommandReply) []byte {
	var b []byte
	b = appendUint64(b, 1, m.SessionIdent)
	b = appendUint64(b, 2, m.RequestIdent)
	b = appendBytes(b, 3, m.Body)
	return b
}

func unmarshalTestCommandReply(body []byte) (*TestCommandReply, error) {
	m := &TestCommandReply{}
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			m.SessionIdent = v
			return n, err
		case 2:
			v, n, err := consumeVarint(b)
			m.RequestIdent = v
			return n, err
		case 3:
			v, n, err := consumeBytes(b)
			m.Body = append([]byte{}, v...)
			return n, err
		default:
			return skipUnknown(typ, b)
		}
	})
	return m, err
}

func skipUnknown(typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}
