package handlers

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haechan419/smartspend-chat/internal/http/middleware"
	"github.com/haechan419/smartspend-chat/internal/services"
	"github.com/haechan419/smartspend-chat/internal/storage"
)

// uploadFixture extends the handler fixture with the attachment surface.
type uploadFixture struct {
	*fixture
	store *storage.LocalStore
}

func newUploadFixture(t *testing.T) *uploadFixture {
	t.Helper()
	f := newFixture(t)
	store := storage.NewLocalStore(t.TempDir())
	up := NewUploadHandler(store, services.NewMessageService(f.db, nil))

	// Registered on the same engine so the auth middleware applies.
	authed := middleware.Authenticate(f.verifier)
	f.engine.POST("/up/rooms/:id/attachments", authed, up.Upload)
	f.engine.GET("/up/attachments/:id/download", authed, up.Download)
	return &uploadFixture{fixture: f, store: store}
}

func (f *uploadFixture) upload(t *testing.T, userID, roomID int64, content string, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if content != "" {
		if err := mw.WriteField("content", content); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for name, data := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := io.Copy(fw, strings.NewReader(data)); err != nil {
			t.Fatalf("copy: %v", err)
		}
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/up/rooms/%d/attachments", roomID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestUpload_CreatesMessageWithAttachment(t *testing.T) {
	f := newUploadFixture(t)
	roomID := f.directRoom(t, 1, 2)

	w := f.upload(t, 1, roomID, "quarterly report", map[string]string{"report.xlsx": "cells"})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: status %d body %s", w.Code, w.Body.String())
	}
	msg := decode[struct {
		ID          int64 `json:"id"`
		Attachments []struct {
			ID           int64  `json:"id"`
			OriginalName string `json:"original_name"`
		} `json:"attachments"`
	}](t, w)
	if len(msg.Attachments) != 1 || msg.Attachments[0].OriginalName != "report.xlsx" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	// The room peer can download the bytes back.
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/up/attachments/%d/download", msg.Attachments[0].ID), nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, 2))
	dw := httptest.NewRecorder()
	f.engine.ServeHTTP(dw, req)
	if dw.Code != http.StatusOK {
		t.Fatalf("download: status %d body %s", dw.Code, dw.Body.String())
	}
	if dw.Body.String() != "cells" {
		t.Fatalf("downloaded %q; want %q", dw.Body.String(), "cells")
	}
	if cd := dw.Header().Get("Content-Disposition"); !strings.Contains(cd, "report.xlsx") {
		t.Fatalf("Content-Disposition %q should carry the original name", cd)
	}

	// Outsiders cannot download.
	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/up/attachments/%d/download", msg.Attachments[0].ID), nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, 9))
	dw = httptest.NewRecorder()
	f.engine.ServeHTTP(dw, req)
	if dw.Code != http.StatusForbidden {
		t.Fatalf("outsider download: status %d; want 403", dw.Code)
	}
}

func TestUpload_Validation(t *testing.T) {
	f := newUploadFixture(t)
	roomID := f.directRoom(t, 1, 2)

	// No files at all.
	w := f.upload(t, 1, roomID, "just text", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("no files: status %d; want 400", w.Code)
	}

	// Non-members cannot upload.
	w = f.upload(t, 9, roomID, "", map[string]string{"a.txt": "x"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("outsider upload: status %d; want 403", w.Code)
	}
}

func TestUpload_RefusedSendLeavesNoBlobs(t *testing.T) {
	f := newUploadFixture(t)
	roomID := f.directRoom(t, 1, 2)

	w := f.upload(t, 9, roomID, "", map[string]string{"a.txt": "x", "b.txt": "y"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("outsider upload: status %d; want 403", w.Code)
	}

	// The blobs written ahead of the refused send are reclaimed.
	var left int
	err := filepath.WalkDir(f.store.Base, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			left++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk store: %v", err)
	}
	if left != 0 {
		t.Fatalf("%d orphaned blob(s) left in the store", left)
	}
}

func TestSearchEndpoint(t *testing.T) {
	f := newUploadFixture(t)
	roomID := f.directRoom(t, 1, 2)

	w := f.upload(t, 1, roomID, "the Q3 numbers", map[string]string{"report.xlsx": "cells"})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: status %d body %s", w.Code, w.Body.String())
	}

	w = f.do(t, 2, http.MethodGet, "/attachments/search?q=Q3", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: status %d body %s", w.Code, w.Body.String())
	}
	res := decode[struct {
		Results []services.SearchResult `json:"results"`
	}](t, w)
	if len(res.Results) != 1 || res.Results[0].OriginalName != "report.xlsx" {
		t.Fatalf("unexpected search results: %+v", res.Results)
	}

	// Blank queries return an empty set, not everything.
	w = f.do(t, 2, http.MethodGet, "/attachments/search?q=", nil)
	res = decode[struct {
		Results []services.SearchResult `json:"results"`
	}](t, w)
	if len(res.Results) != 0 {
		t.Fatalf("blank query results = %d; want 0", len(res.Results))
	}

	// Search is scoped to the caller's rooms.
	w = f.do(t, 9, http.MethodGet, "/attachments/search?q=Q3", nil)
	res = decode[struct {
		Results []services.SearchResult `json:"results"`
	}](t, w)
	if len(res.Results) != 0 {
		t.Fatalf("outsider results = %d; want 0", len(res.Results))
	}
}
