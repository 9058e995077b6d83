package cbadapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	ngsi "ngsi-gateway/internal/ngsi/domain"
)

// brokerError is the union of the v2 and NGSI-LD error bodies.
type brokerError struct {
	OrionError *struct {
		Code         any    `json:"code"`
		ReasonPhrase string `json:"reasonPhrase"`
		Details      string `json:"details"`
	} `json:"orionError"`
	Error       string `json:"error"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Detail      string `json:"detail"`
}

type parsedError struct {
	code   string
	detail string
}

func (p parsedError) String() string {
	switch {
	case p.code != "" && p.detail != "":
		return p.code + ": " + p.detail
	case p.code != "":
		return p.code
	default:
		return p.detail
	}
}

// parseBrokerError extracts a structured error from body, if there is one.
func parseBrokerError(body []byte) (parsedError, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return parsedError{}, false
	}
	var e brokerError
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return parsedError{}, false
	}
	switch {
	case e.OrionError != nil:
		code := ""
		if e.OrionError.Code != nil {
			code = fmt.Sprint(e.OrionError.Code)
		}
		detail := strings.TrimSpace(e.OrionError.ReasonPhrase + " " + e.OrionError.Details)
		return parsedError{code: code, detail: detail}, true
	case e.Error != "":
		return parsedError{code: e.Error, detail: e.Description}, true
	case strings.Contains(e.Type, "/errors/") && (e.Title != "" || e.Detail != ""):
		return parsedError{code: e.Type, detail: strings.TrimSpace(e.Title + " " + e.Detail)}, true
	default:
		return parsedError{}, false
	}
}

func isNotFoundCode(code string) bool {
	return strings.Contains(code, "404") || strings.Contains(code, "NotFound") || strings.Contains(code, "ResourceNotFound")
}

// classify maps a broker exchange onto an outcome. Order: transport failure,
// success, auth, not-found variants, structured body, generic.
func classify(query bool, entity Entity, resp Response, sendErr error) (ngsi.Outcome, error) {
	fail := func(kind ngsi.ErrorKind, detail string, cause error) (ngsi.Outcome, error) {
		return ngsi.Outcome{}, &ngsi.Error{
			Kind:   kind,
			Entity: entity.EntityID(),
			Status: resp.StatusCode,
			Detail: detail,
			Err:    cause,
		}
	}

	if sendErr != nil {
		return fail(ngsi.KindTransport, "broker unreachable", sendErr)
	}

	parsed, structured := parseBrokerError(resp.Body)
	status := resp.StatusCode

	switch {
	case status >= 200 && status < 300:
		if structured {
			return fail(ngsi.KindBrokerRejected, parsed.String(), nil)
		}
		if !query {
			return ngsi.Outcome{Kind: ngsi.OutcomeUpdated, Entities: 1}, nil
		}
		if len(bytes.TrimSpace(resp.Body)) == 0 {
			return fail(ngsi.KindBadAnswer, "query returned no body", nil)
		}
		return ngsi.Outcome{Kind: ngsi.OutcomeQueried, Entities: 1, Payload: json.RawMessage(resp.Body)}, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fail(ngsi.KindAccessForbidden, parsed.String(), nil)
	case status == http.StatusNotFound:
		if structured && entity.EntityType() != "" && strings.Contains(parsed.detail, entity.EntityType()) {
			return fail(ngsi.KindDeviceNotFound, parsed.String(), nil)
		}
		if structured && isNotFoundCode(parsed.code) {
			return fail(ngsi.KindAttributeNotFound, parsed.String(), nil)
		}
		return fail(ngsi.KindEntityGeneric, bodyDetail(parsed, structured, resp.Body), nil)
	case structured:
		return fail(ngsi.KindBrokerRejected, parsed.String(), nil)
	default:
		return fail(ngsi.KindEntityGeneric, bodyDetail(parsed, structured, resp.Body), nil)
	}
}

func bodyDetail(parsed parsedError, structured bool, body []byte) string {
	if structured {
		return parsed.String()
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		text = text[:256]
	}
	return text
}
