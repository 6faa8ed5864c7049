package reportlinesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reportline/internal/config"
	"reportline/internal/db"
	"reportline/internal/engine"
	"reportline/internal/logger"
	"reportline/internal/migrate"
	"reportline/internal/server"
	reportlinesdk "reportline/sdk/go"
)

const secret = "sdk-secret"

func newClient(t *testing.T, userID string) *reportlinesdk.Client {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Driver: db.DriverSQLite, Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn, db.DriverSQLite))

	handler, err := server.New(server.Config{
		Engine:   engine.New(conn, config.Default(), logger.Nop()),
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: secret},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	token, err := server.SignToken(secret, userID, time.Hour, time.Now())
	require.NoError(t, err)
	c := reportlinesdk.New(srv.URL)
	c.BearerToken = token
	return c
}

func TestClientFillsAndSubmitsReport(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "manager-1")

	tpl, err := c.CreateTemplate(ctx, reportlinesdk.TemplateInput{
		Title:       "Daily Sales",
		Description: "End of day numbers",
		Questions: []reportlinesdk.QuestionInput{
			{Text: "Total sales?", Type: "number", Required: true},
			{Text: "Queue length", Type: "choice", Required: true, Options: []string{"Short", "Long"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, tpl.Questions, 2)
	salesID, queueID := tpl.Questions[0].ID, tpl.Questions[1].ID

	store, err := c.CreateStore(ctx, reportlinesdk.StoreInput{Name: "Downtown"})
	require.NoError(t, err)

	sess, err := c.StartSession(ctx, store.ID, tpl.ID)
	require.NoError(t, err)
	require.Equal(t, "guided", sess.State)

	_, err = c.Next(ctx, sess.ID)
	var apiErr *reportlinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	require.Equal(t, "validation_failed", apiErr.Code)

	_, err = c.SetAnswer(ctx, sess.ID, salesID, 1520.5)
	require.NoError(t, err)
	sess, err = c.Next(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, sess.Index)
	require.Equal(t, 1, *sess.Index)

	_, err = c.SetInput(ctx, sess.ID, queueID, "2")
	require.NoError(t, err)
	sess, err = c.Next(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "review", sess.State)
	require.True(t, sess.CanSubmit)

	res, err := c.Submit(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, res.Created)
	require.True(t, res.Report.Completed)

	rep, err := c.GetReport(ctx, res.Report.ID)
	require.NoError(t, err)
	values := map[string]any{}
	for _, a := range rep.Answers {
		values[a.QuestionID] = a.Value
	}
	require.Equal(t, 1520.5, values[salesID])
	require.Equal(t, "Long", values[queueID])

	_, err = c.Next(ctx, sess.ID)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClientResumesAssignedReport(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "manager-2")

	tpl, err := c.CreateTemplate(ctx, reportlinesdk.TemplateInput{
		Title:       "Weekly",
		Description: "Weekly check",
		Questions:   []reportlinesdk.QuestionInput{{Text: "Notes", Required: true}},
	})
	require.NoError(t, err)
	store, err := c.CreateStore(ctx, reportlinesdk.StoreInput{Name: "Harbor"})
	require.NoError(t, err)
	pending, err := c.AssignTemplate(ctx, store.ID, tpl.ID)
	require.NoError(t, err)
	require.False(t, pending.Completed)

	sess, err := c.StartSession(ctx, store.ID, "")
	require.NoError(t, err)
	require.Equal(t, pending.ID, sess.ReportID)

	_, err = c.SetInput(ctx, sess.ID, tpl.Questions[0].ID, "all fine")
	require.NoError(t, err)
	_, err = c.Next(ctx, sess.ID)
	require.NoError(t, err)
	res, err := c.Submit(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, res.Created)
	require.Equal(t, pending.ID, res.Report.ID)

	page, err := c.EventsPage(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	require.Equal(t, "report.updated", page.Items[0].Type)
}

func TestClientRejectsMissingCredentials(t *testing.T) {
	c := newClient(t, "someone")
	c.BearerToken = ""
	_, err := c.GetTemplate(context.Background(), "nope")
	var apiErr *reportlinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, "unauthorized", apiErr.Code)
}
