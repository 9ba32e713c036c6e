package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/splitstore/internal/data/repos/testutil"
	"github.com/yungbote/splitstore/internal/domain/keys"
	inspector "github.com/yungbote/splitstore/internal/http"
	httpH "github.com/yungbote/splitstore/internal/http/handlers"
	"github.com/yungbote/splitstore/internal/modulestore/splittest"
)

func newInspector(t *testing.T) (*gin.Engine, *splittest.Fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store := splittest.NewStore(t)
	f := splittest.GreekHero(t, ctx, store)
	log := testutil.Logger(t)
	r := inspector.NewRouter(inspector.RouterConfig{
		Log:           log,
		HealthHandler: httpH.NewHealthHandler(nil),
		CourseHandler: httpH.NewCourseHandler(log, store),
		BlockHandler:  httpH.NewBlockHandler(log, store),
	})
	return r, f
}

func get(t *testing.T, r http.Handler, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func TestHealthcheck(t *testing.T) {
	r, _ := newInspector(t)
	if code := get(t, r, "/healthcheck", nil); code != http.StatusOK {
		t.Fatalf("healthcheck: want=200 got=%d", code)
	}

	down := inspector.NewRouter(inspector.RouterConfig{
		HealthHandler: httpH.NewHealthHandler(func(context.Context) error { return errors.New("db gone") }),
	})
	if code := get(t, down, "/healthcheck", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("failing ping: want=503 got=%d", code)
	}
}

func TestListCourses(t *testing.T) {
	r, f := newInspector(t)
	var body struct {
		Courses []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"courses"`
	}
	if code := get(t, r, "/api/courses?org=testx", &body); code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", code)
	}
	if len(body.Courses) != 1 || body.Courses[0].ID != f.Course.String() {
		t.Fatalf("courses: got=%+v", body.Courses)
	}
	if body.Courses[0].DisplayName != "The Ancient Greek Hero" {
		t.Fatalf("display_name: got=%q", body.Courses[0].DisplayName)
	}
}

func TestGetBlock(t *testing.T) {
	r, f := newInspector(t)
	var body struct {
		ID        string         `json:"id"`
		Category  string         `json:"category"`
		Fields    map[string]any `json:"fields"`
		Inherited map[string]any `json:"inherited"`
		Content   map[string]any `json:"content"`
		Children  []string       `json:"children"`
	}
	path := "/api/blocks/" + url.PathEscape(f.Block(t, "problem3_2").String()) + "?content=true"
	if code := get(t, r, path, &body); code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", code)
	}
	if body.Category != "problem" || body.Fields["display_name"] != "Problem 3.2" {
		t.Fatalf("block: got=%+v", body)
	}
	if body.Inherited["graceperiod"] != "2 hours" {
		t.Fatalf("inherited graceperiod: got=%v", body.Inherited["graceperiod"])
	}
	if body.Content["data"] != "<problem><p>Name the hydra's home.</p></problem>" {
		t.Fatalf("content: got=%v", body.Content)
	}

	var seq struct {
		Children []string `json:"children"`
	}
	get(t, r, "/api/blocks/"+url.PathEscape(f.Block(t, "chapter1_seq1").String()), &seq)
	if len(seq.Children) != 2 {
		t.Fatalf("children: got=%v", seq.Children)
	}
	child, err := keys.ParseUsageKey(seq.Children[0])
	if err != nil || child.BlockID != "problem1" {
		t.Fatalf("child key: got=%q err=%v", seq.Children[0], err)
	}
}

func TestErrorMapping(t *testing.T) {
	r, f := newInspector(t)
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	missing := keys.MakeUsageKey(f.Course, keys.BlockKey{Type: "html", ID: "nope"})
	if code := get(t, r, "/api/blocks/"+url.PathEscape(missing.String()), &body); code != http.StatusNotFound {
		t.Fatalf("missing block: want=404 got=%d", code)
	}
	if body.Error.Code != "item_not_found" {
		t.Fatalf("code: want=item_not_found got=%q", body.Error.Code)
	}
	if code := get(t, r, "/api/blocks/not-a-key", &body); code != http.StatusBadRequest {
		t.Fatalf("malformed key: want=400 got=%d", code)
	}
	if code := get(t, r, "/api/courses/"+url.PathEscape(f.Course.String())+"/items?name=(", &body); code != http.StatusBadRequest {
		t.Fatalf("bad regexp: want=400 got=%d", code)
	}
}

func TestHistoryAndItems(t *testing.T) {
	r, f := newInspector(t)
	course := url.PathEscape(f.Course.String())

	var hist struct {
		Version string   `json:"version"`
		Lineage []string `json:"lineage"`
	}
	if code := get(t, r, "/api/courses/"+course+"/history", &hist); code != http.StatusOK {
		t.Fatalf("history status: got=%d", code)
	}
	if len(hist.Lineage) != 2 || hist.Lineage[1] != hist.Version {
		t.Fatalf("lineage: got=%+v", hist)
	}

	var items struct {
		Items []struct {
			Category string `json:"category"`
		} `json:"items"`
	}
	if code := get(t, r, "/api/courses/"+course+"/items?category=chapter", &items); code != http.StatusOK {
		t.Fatalf("items status: got=%d", code)
	}
	if len(items.Items) != 3 {
		t.Fatalf("chapters: want=3 got=%d", len(items.Items))
	}

	var changes struct {
		HasChanges bool `json:"has_changes"`
	}
	get(t, r, "/api/blocks/"+url.PathEscape(f.Block(t, "chapter1").String())+"/changes", &changes)
	if !changes.HasChanges {
		t.Fatalf("unpublished chapter: want has_changes")
	}
}
