package syncapi

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
	"github.com/mozilla-services/syncstorage-go/internal/synctime"
)

// wireBSO mirrors the client-facing BSO JSON shape: id is required, the
// rest are optional depending on whether this is a create or an update.
type wireBSO struct {
	ID        string  `json:"id"`
	Payload   *string `json:"payload"`
	SortIndex *int32  `json:"sortindex"`
	TTL       *int64  `json:"ttl"`
}

// decodeBSOWrites parses a collectionPOST body in any of the three
// content types Sync 1.5 clients send (spec §4.3's hCollectionPOST
// equivalent): application/json (a JSON array), text/plain (treated the
// same as JSON for older broken clients), or application/newlines (one
// JSON object per line).
func decodeBSOWrites(r *http.Request, maxRecords, maxPayloadBytes int) ([]storagedriver.BSOWrite, error) {
	ct := r.Header.Get("Content-Type")
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}

	var raw []json.RawMessage
	switch ct {
	case "", "application/json", "text/plain":
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, apperror.Wrap(apperror.KindValidation, err, "malformed request body")
		}
	case "application/newlines":
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			raw = append(raw, append(json.RawMessage{}, line...))
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			return nil, apperror.Wrap(apperror.KindValidation, err, "reading newline-delimited body")
		}
	default:
		return nil, apperror.New(apperror.KindValidation, "unsupported Content-Type")
	}

	if maxRecords > 0 && len(raw) > maxRecords {
		return nil, apperror.Newf(apperror.KindValidation, "exceeded %d BSOs per request", maxRecords)
	}

	records := make([]storagedriver.BSOWrite, 0, len(raw))
	for _, item := range raw {
		var w wireBSO
		if err := json.Unmarshal(item, &w); err != nil {
			return nil, apperror.Wrap(apperror.KindValidation, err, "invalid bso entry")
		}
		if !storagedriver.BSOIDOK(w.ID) {
			return nil, apperror.Newf(apperror.KindValidation, "invalid bso id %q", w.ID)
		}
		if w.Payload != nil && maxPayloadBytes > 0 && len(*w.Payload) > maxPayloadBytes {
			return nil, apperror.Newf(apperror.KindValidation, "payload for %q exceeds max size", w.ID)
		}
		records = append(records, storagedriver.BSOWrite{
			ID:        w.ID,
			Payload:   w.Payload,
			SortIndex: w.SortIndex,
			TTL:       w.TTL,
		})
	}
	return records, nil
}

// decodeBSOWrite parses a single-BSO PUT body; id comes from the URL path,
// not the body (the wire format for PUT omits it).
func decodeBSOWrite(r *http.Request, id string, maxPayloadBytes int) (storagedriver.BSOWrite, error) {
	var w wireBSO
	if err := json.NewDecoder(r.Body).Decode(&w); err != nil {
		return storagedriver.BSOWrite{}, apperror.Wrap(apperror.KindValidation, err, "malformed request body")
	}
	if w.Payload != nil && maxPayloadBytes > 0 && len(*w.Payload) > maxPayloadBytes {
		return storagedriver.BSOWrite{}, apperror.New(apperror.KindValidation, "payload exceeds max size")
	}
	return storagedriver.BSOWrite{
		ID:        id,
		Payload:   w.Payload,
		SortIndex: w.SortIndex,
		TTL:       w.TTL,
	}, nil
}

// totalPayloadSize sums the byte length of every record's payload, for a
// single quota check covering the whole batch write.
func totalPayloadSize(records []storagedriver.BSOWrite) int64 {
	var total int64
	for _, rec := range records {
		if rec.Payload != nil {
			total += int64(len(*rec.Payload))
		}
	}
	return total
}

// acceptHeaderOK rejects requests whose Accept header can't be satisfied
// with application/json, mirroring the reference handler's AcceptHeaderOk.
func acceptHeaderOK(w http.ResponseWriter, r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" || accept == "*/*" || strings.Contains(accept, "application/json") || strings.Contains(accept, "*/*") {
		return true
	}
	writeJSONError(w, http.StatusNotAcceptable, "Not acceptable Accept header")
	return false
}

// checkPreconditions applies X-If-Modified-Since / X-If-Unmodified-Since
// against the resource's current modified time, writing 304/412 and
// returning false when the request should stop here.
func checkPreconditions(w http.ResponseWriter, r *http.Request, modified synctime.Timestamp) bool {
	if v := r.Header.Get("X-If-Modified-Since"); v != "" {
		threshold, err := parseHeaderTimestamp(v)
		if err == nil && !modified.After(threshold) {
			w.Header().Set("X-Last-Modified", modified.AsSecondsString())
			w.WriteHeader(http.StatusNotModified)
			return false
		}
	}
	if v := r.Header.Get("X-If-Unmodified-Since"); v != "" {
		threshold, err := parseHeaderTimestamp(v)
		if err == nil && modified.After(threshold) {
			writeAppError(w, apperror.New(apperror.KindPrecondition, "resource modified since X-If-Unmodified-Since"))
			return false
		}
	}
	return true
}

func parseHeaderTimestamp(v string) (synctime.Timestamp, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return synctime.FromSeconds(f)
}

func uidFromRequest(r *http.Request) storagedriver.UserID {
	vars := mux.Vars(r)
	id, _ := strconv.ParseUint(vars["uid"], 10, 64)
	return storagedriver.UserID(id)
}

func collectionFromRequest(r *http.Request) string {
	return mux.Vars(r)["collection"]
}

func bsoIDFromRequest(r *http.Request) string {
	return mux.Vars(r)["bsoId"]
}

func parseReadFilter(r *http.Request, maxLimit int) (storagedriver.ReadFilter, error) {
	if err := r.ParseForm(); err != nil {
		return storagedriver.ReadFilter{}, err
	}

	filter := storagedriver.ReadFilter{Full: r.Form.Get("full") != ""}

	if v := r.Form.Get("ids"); v != "" {
		for _, id := range strings.Split(v, ",") {
			id = strings.TrimSpace(id)
			if !storagedriver.BSOIDOK(id) {
				return storagedriver.ReadFilter{}, apperror.Newf(apperror.KindValidation, "invalid bso id %q", id)
			}
			filter.IDs = append(filter.IDs, id)
		}
	}

	if v := r.Form.Get("newer"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return storagedriver.ReadFilter{}, apperror.New(apperror.KindValidation, "invalid newer param")
		}
		ts, err := synctime.FromSeconds(f)
		if err != nil {
			return storagedriver.ReadFilter{}, apperror.New(apperror.KindValidation, "invalid newer param")
		}
		filter.Newer = &ts
	}

	if v := r.Form.Get("older"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return storagedriver.ReadFilter{}, apperror.New(apperror.KindValidation, "invalid older param")
		}
		ts, err := synctime.FromSeconds(f)
		if err != nil {
			return storagedriver.ReadFilter{}, apperror.New(apperror.KindValidation, "invalid older param")
		}
		filter.Older = &ts
	}

	switch r.Form.Get("sort") {
	case "", "newest":
		filter.Sort = storagedriver.SortNewest
	case "oldest":
		filter.Sort = storagedriver.SortOldest
	case "index":
		filter.Sort = storagedriver.SortIndex
	default:
		return storagedriver.ReadFilter{}, apperror.New(apperror.KindValidation, "invalid sort value")
	}

	filter.Limit = maxLimit
	if v := r.Form.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return storagedriver.ReadFilter{}, apperror.New(apperror.KindValidation, "invalid limit value")
		}
		filter.Limit = n
		if maxLimit > 0 && filter.Limit > maxLimit {
			filter.Limit = maxLimit
		}
	}

	filter.Offset = r.Form.Get("offset")
	return filter, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeAppError translates an apperror.Error (or any error) into the
// response format spec §7 describes: validation errors get the structured
// ValidationBody, everything else a minimal status + message.
func writeAppError(w http.ResponseWriter, err error) {
	kind := apperror.KindOf(err)
	status := kind.HTTPStatus()

	if kind == apperror.KindValidation {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(apperror.ValidationBody{
			Status: status,
			Errors: []apperror.ValidationIssue{{Location: "body", Name: "-", Description: err.Error()}},
		})
		return
	}

	writeJSONError(w, status, err.Error())
}
