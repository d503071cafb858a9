package api_v1

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestHTTPStatus(t *testing.T) {
	for name, tc := range map[string]struct {
		err  error
		code int
	}{
		"not found":  {NotFoundError{Entity: "run", Id: "r1"}, http.StatusNotFound},
		"forbidden":  {ForbiddenError{UserId: "u1", Reason: "not a member"}, http.StatusForbidden},
		"validation": {ValidationError{Message: "bad"}, http.StatusBadRequest},
		"conflict":   {ConflictError{Message: "resolved"}, http.StatusConflict},
		"wrapped":    {fmt.Errorf("start run: %w", NotFoundError{Entity: "workflow", Id: "w1"}), http.StatusNotFound},
		"fatal":      {FatalError{RunId: "r1", Reason: "unknown step type"}, http.StatusInternalServerError},
		"other":      {fmt.Errorf("boom"), http.StatusInternalServerError},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.code, HTTPStatus(tc.err))
		})
	}
}

func TestGRPCStatus(t *testing.T) {
	st, ok := status.FromError(NotFoundError{Entity: "run", Id: "r1"})
	require.True(t, ok)
	require.Equal(t, codes.NotFound, st.Code())
	require.Equal(t, "run r1 not found", st.Message())
	require.Len(t, st.Details(), 1)

	st, ok = status.FromError(ForbiddenError{UserId: "u1", Reason: "not a member"})
	require.True(t, ok)
	require.Equal(t, codes.PermissionDenied, st.Code())
}

func TestIsPermanent(t *testing.T) {
	require.True(t, IsPermanent(NotFoundError{Entity: "run", Id: "r1"}))
	require.True(t, IsPermanent(fmt.Errorf("advance: %w", ConflictError{Message: "done"})))
	require.True(t, IsPermanent(FatalError{RunId: "r1", Reason: "broken"}))
	require.False(t, IsPermanent(fmt.Errorf("connection reset")))
}
