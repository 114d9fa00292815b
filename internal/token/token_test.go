package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/lockdrop/internal/errs"
	"github.com/dharsanguruparan/lockdrop/internal/model"
)

func newService() *Service {
	return New([]byte("test-secret"), TTLs{})
}

func TestDownloadToken_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newService()
	raw, exp, err := s.IssueDownload("file-1")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(10*time.Minute), exp, 5*time.Second)

	c, err := s.VerifyDownload(raw, "file-1")
	require.NoError(t, err)
	require.Equal(t, "file-1", c.FileUUID)
	require.True(t, c.PasswordVerified)
}

func TestDownloadToken_WrongArtifact(t *testing.T) {
	t.Parallel()

	s := newService()
	raw, _, err := s.IssueDownload("file-1")
	require.NoError(t, err)
	_, err = s.VerifyDownload(raw, "file-2")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestDownloadToken_PasswordNotVerified(t *testing.T) {
	t.Parallel()

	s := newService()
	raw, _, err := s.Issue(model.TokenDownload, Claims{FileUUID: "file-1"}, 0)
	require.NoError(t, err)
	_, err = s.VerifyDownload(raw, "file-1")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	s := newService()
	s.now = func() time.Time { return time.Now().Add(-time.Hour) }
	raw, _, err := s.IssueDownload("file-1")
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.VerifyDownload(raw, "file-1")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	raw, _, err := newService().IssueDownload("file-1")
	require.NoError(t, err)
	_, err = New([]byte("other"), TTLs{}).VerifyDownload(raw, "file-1")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestVerify_WrongKind(t *testing.T) {
	t.Parallel()

	s := newService()
	pair, err := s.IssuePair("admin", true)
	require.NoError(t, err)

	_, err = s.Verify(pair.RefreshToken, model.TokenAccess)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, err = s.VerifyDownload(pair.AccessToken, "file-1")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestVerify_MalformedAndNoneAlg(t *testing.T) {
	t.Parallel()

	s := newService()
	_, err := s.Verify("not.a.jwt", model.TokenAccess)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Kind:             model.TokenAccess,
		Admin:            true,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Verify(unsigned, model.TokenAccess)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestVerifyAdmin(t *testing.T) {
	t.Parallel()

	s := newService()
	admin, err := s.IssuePair("root", true)
	require.NoError(t, err)
	c, err := s.VerifyAdmin(admin.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "root", c.Subject)

	user, err := s.IssuePair("someone", false)
	require.NoError(t, err)
	_, err = s.VerifyAdmin(user.AccessToken)
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestRefresh_KeepsAdminFlag(t *testing.T) {
	t.Parallel()

	s := newService()
	pair, err := s.IssuePair("root", true)
	require.NoError(t, err)

	next, err := s.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	require.Empty(t, next.RefreshToken)
	c, err := s.VerifyAdmin(next.AccessToken)
	require.NoError(t, err)
	require.True(t, c.Admin)

	_, err = s.Refresh(pair.AccessToken)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}
