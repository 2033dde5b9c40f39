package document

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/docqueue/internal/domain"
)

func TestRegistry_Validate(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name    string
		jobType string
		payload string
		want    Descriptor
		wantErr error
	}{
		{
			name:    "markdown with logical id",
			jobType: TypeMarkdown,
			payload: `{"logicalId":"report-1","title":"T","markdown":"# hi"}`,
			want:    Descriptor{LogicalID: "report-1", Title: "T"},
		},
		{
			name:    "markdown without logical id",
			jobType: TypeMarkdown,
			payload: `{"title":"T"}`,
			want:    Descriptor{Title: "T"},
		},
		{
			name:    "template",
			jobType: TypeTemplate,
			payload: `{"title":"Invoice","templateId":"inv-v2","data":{"total":12}}`,
			want:    Descriptor{Title: "Invoice"},
		},
		{name: "unknown type", jobType: "video", payload: `{}`, wantErr: domain.ErrUnknownJobType},
		{name: "missing title", jobType: TypeMarkdown, payload: `{"markdown":"x"}`, wantErr: domain.ErrInvalidPayload},
		{name: "bad layout", jobType: TypeMarkdown, payload: `{"title":"T","layout":"poster"}`, wantErr: domain.ErrInvalidPayload},
		{name: "unknown field", jobType: TypeMarkdown, payload: `{"title":"T","colour":"red"}`, wantErr: domain.ErrInvalidPayload},
		{name: "template without id", jobType: TypeTemplate, payload: `{"title":"T"}`, wantErr: domain.ErrInvalidPayload},
		{name: "empty payload", jobType: TypeMarkdown, payload: ``, wantErr: domain.ErrInvalidPayload},
		{name: "not json", jobType: TypeMarkdown, payload: `title`, wantErr: domain.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Validate(tt.jobType, json.RawMessage(tt.payload))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_Types(t *testing.T) {
	types := NewRegistry().Types()
	sort.Strings(types)
	assert.Equal(t, []string{TypeMarkdown, TypeTemplate}, types)
}

func TestHTTPRenderer_Render(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req renderRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, TypeMarkdown, req.Type)
		assert.JSONEq(t, `{"title":"T"}`, string(req.Payload))

		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	r := NewHTTPRenderer(HTTPRendererConfig{Endpoint: srv.URL, Timeout: time.Second})
	out, err := r.Render(context.Background(), TypeMarkdown, json.RawMessage(`{"title":"T"}`))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(out))
}

func TestHTTPRenderer_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "template not found", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	r := NewHTTPRenderer(HTTPRendererConfig{Endpoint: srv.URL, Timeout: time.Second})
	_, err := r.Render(context.Background(), TypeTemplate, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "template not found")
}

func TestRendererFunc(t *testing.T) {
	var r Renderer = RendererFunc(func(_ context.Context, jobType string, _ json.RawMessage) ([]byte, error) {
		return []byte(jobType), nil
	})
	out, err := r.Render(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "x", string(out))
}
