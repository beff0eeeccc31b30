package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/provider"
	"github.com/digkill/picly/internal/social"
	"github.com/digkill/picly/pkg/logger"
)

type fakePublisher struct {
	publishFn func(cred social.Credential, post social.Post) (*social.Result, error)
	posts     []social.Post
}

func (f *fakePublisher) Publish(_ context.Context, cred social.Credential, post social.Post) (*social.Result, error) {
	f.posts = append(f.posts, post)
	if f.publishFn == nil {
		return &social.Result{PostID: post.Platform + "_1", PostURL: "https://" + post.Platform + ".example/1"}, nil
	}
	return f.publishFn(cred, post)
}

func newSocial(t *testing.T, env *testEnv, pub social.Publisher, gen *GenerationService) *SocialService {
	t.Helper()
	svc := NewSocialService(logger.Discard(), env.social, pub, gen, nil)
	svc.now = env.clock.now
	return svc
}

func saveCreds(t *testing.T, svc *SocialService, platforms ...string) {
	t.Helper()
	for _, p := range platforms {
		require.NoError(t, svc.SaveCredentials(context.Background(), p, CredentialsRequest{AccessToken: "tok-" + p, Endpoint: "https://publish.example/" + p}))
	}
}

func TestCreateContentValidation(t *testing.T) {
	env := newTestEnv(t)
	svc := newSocial(t, env, &fakePublisher{}, nil)
	ctx := context.Background()
	u := env.register(t, "zoe")

	_, err := svc.CreateContent(ctx, u.ID, CreateContentRequest{Topic: " ", Platforms: []string{social.Twitter}})
	assert.ErrorIs(t, err, ErrMissingFields)
	_, err = svc.CreateContent(ctx, u.ID, CreateContentRequest{Topic: "tea", Platforms: []string{"myspace"}})
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	_, err = svc.CreateContent(ctx, u.ID, CreateContentRequest{Topic: "tea"})
	assert.ErrorIs(t, err, ErrNoPlatforms)

	item, err := svc.CreateContent(ctx, u.ID, CreateContentRequest{Topic: "green tea", Platforms: []string{"Twitter", "twitter", "instagram"}, Language: "es"})
	require.NoError(t, err)
	assert.Equal(t, []string{social.Twitter, social.Instagram}, item.Platforms)
	assert.Equal(t, models.ContentDraft, item.Status)
	assert.Contains(t, item.Caption, "green tea")
	assert.Len(t, item.Hashtags[social.Twitter], 2)

	list, err := svc.ListContent(ctx, u.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, item.Hashtags, list[0].Hashtags)
}

func TestCreateContentGeneratesImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "amy")

	eng := &fakeEngine{name: provider.EngineHuggingFace, tier: models.TierFree, configured: true,
		generateFn: func(_ context.Context, req provider.Request) (*provider.Image, error) {
			assert.Equal(t, 1000, req.Width)
			assert.Equal(t, 1500, req.Height)
			assert.Contains(t, req.Prompt, "mountain lake, professional social media content")
			return &provider.Image{Bytes: testPNG(t, 4, 4), Mime: "image/png"}, nil
		}}
	gen, _ := newGenerationService(t, env, eng)
	svc := newSocial(t, env, &fakePublisher{}, gen)

	item, err := svc.CreateContent(ctx, u.ID, CreateContentRequest{Topic: "mountain lake", Platforms: []string{social.Pinterest}, GenerateImage: true})
	require.NoError(t, err)
	assert.NotEmpty(t, item.MediaURL)
	assert.Equal(t, 1, eng.calls)

	bal, err := env.creditSvc.GetUserCredits(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, bal.Free)
}

func TestAutoPost(t *testing.T) {
	env := newTestEnv(t)
	pub := &fakePublisher{}
	svc := newSocial(t, env, pub, nil)
	ctx := context.Background()
	u := env.register(t, "bea")
	other := env.register(t, "cal")

	item, err := svc.CreateContent(ctx, u.ID, CreateContentRequest{Topic: "sunrise", Platforms: []string{social.Instagram, social.Facebook}})
	require.NoError(t, err)

	_, err = svc.AutoPost(ctx, u.ID, 999)
	assert.EqualError(t, err, "Content not found")
	_, err = svc.AutoPost(ctx, other.ID, item.ID)
	assert.ErrorIs(t, err, ErrContentNotFound)

	saveCreds(t, svc, social.Instagram)
	_, err = svc.AutoPost(ctx, u.ID, item.ID)
	assert.EqualError(t, err, "No credentials for facebook")
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Empty(t, pub.posts)

	saveCreds(t, svc, social.Facebook)
	posted, err := svc.AutoPost(ctx, u.ID, item.ID)
	require.NoError(t, err)
	require.Len(t, posted, 2)
	assert.Equal(t, "instagram_1", posted[0].ExternalID)

	stored, err := env.social.FindContent(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContentPosted, stored.Status)
	require.NotNil(t, stored.PostedAt)

	_, err = svc.AutoPost(ctx, u.ID, item.ID)
	assert.ErrorIs(t, err, ErrAlreadyPosted)
	assert.Len(t, pub.posts, 2)
}

func TestRetryAfterPartialFailurePostsOnlyMissingPlatforms(t *testing.T) {
	env := newTestEnv(t)
	twitterDown := true
	pub := &fakePublisher{publishFn: func(_ social.Credential, post social.Post) (*social.Result, error) {
		if post.Platform == social.Twitter && twitterDown {
			return nil, errors.New("status 503")
		}
		return &social.Result{PostID: post.Platform + "_1"}, nil
	}}
	svc := newSocial(t, env, pub, nil)
	ctx := context.Background()
	u := env.register(t, "eli")
	saveCreds(t, svc, social.LinkedIn, social.Twitter)

	item, err := svc.CreateContent(ctx, u.ID, CreateContentRequest{Topic: "launch day", Platforms: []string{social.LinkedIn, social.Twitter}})
	require.NoError(t, err)

	posted, err := svc.AutoPost(ctx, u.ID, item.ID)
	require.Error(t, err)
	require.Len(t, posted, 1)
	stored, err := env.social.FindContent(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContentFailed, stored.Status)

	twitterDown = false
	pub.posts = nil
	posted, err = svc.AutoPost(ctx, u.ID, item.ID)
	require.NoError(t, err)
	require.Len(t, posted, 1)
	assert.Equal(t, social.Twitter, posted[0].Platform)
	require.Len(t, pub.posts, 1)
	assert.Equal(t, social.Twitter, pub.posts[0].Platform)

	stored, err = env.social.FindContent(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContentPosted, stored.Status)
}

func TestProcessScheduled(t *testing.T) {
	env := newTestEnv(t)
	pub := &fakePublisher{publishFn: func(cred social.Credential, post social.Post) (*social.Result, error) {
		if post.Platform == social.Twitter {
			return nil, errors.New("status 503")
		}
		return &social.Result{PostID: "ok"}, nil
	}}
	svc := newSocial(t, env, pub, nil)
	ctx := context.Background()
	u := env.register(t, "dan")
	saveCreds(t, svc, social.LinkedIn, social.Twitter)

	good, err := svc.CreateContent(ctx, u.ID, CreateContentRequest{Topic: "career growth", Platforms: []string{social.LinkedIn}})
	require.NoError(t, err)
	bad, err := svc.CreateContent(ctx, u.ID, CreateContentRequest{Topic: "launch", Platforms: []string{social.Twitter}})
	require.NoError(t, err)
	later, err := svc.CreateContent(ctx, u.ID, CreateContentRequest{Topic: "tomorrow", Platforms: []string{social.LinkedIn}})
	require.NoError(t, err)

	now := env.clock.now()
	_, err = svc.Schedule(ctx, u.ID, good.ID, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = svc.Schedule(ctx, u.ID, bad.ID, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = svc.Schedule(ctx, u.ID, later.ID, now.Add(24*time.Hour))
	require.NoError(t, err)

	posted, failed, err := svc.ProcessScheduled(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, posted)
	assert.Equal(t, 1, failed)

	g, err := env.social.FindContent(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContentPosted, g.Status)
	b, err := env.social.FindContent(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContentFailed, b.Status)
	assert.Contains(t, b.LastError, "status 503")
	l, err := env.social.FindContent(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContentPending, l.Status)

	// Failed items are not retried on the next tick.
	posted, failed, err = svc.ProcessScheduled(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, posted+failed)
}

func TestEngagementReport(t *testing.T) {
	env := newTestEnv(t)
	svc := newSocial(t, env, &fakePublisher{}, nil)
	ctx := context.Background()
	u := env.register(t, "eve")
	saveCreds(t, svc, social.Instagram, social.TikTok)

	item, err := svc.CreateContent(ctx, u.ID, CreateContentRequest{Topic: "street food", Platforms: []string{social.Instagram, social.TikTok}})
	require.NoError(t, err)
	posted, err := svc.AutoPost(ctx, u.ID, item.ID)
	require.NoError(t, err)
	require.Len(t, posted, 2)

	require.NoError(t, svc.RecordEngagement(ctx, posted[1].ID, EngagementInput{Likes: 30, Shares: 10, Comments: 10, Views: 1000}))
	assert.ErrorIs(t, svc.RecordEngagement(ctx, 12345, EngagementInput{Likes: 1}), ErrPostNotFound)

	rep, err := svc.AnalyticsReport(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.TotalPosts)
	require.Contains(t, rep.Platforms, social.TikTok)
	assert.InDelta(t, 5.0, rep.Platforms[social.TikTok].EngagementRate, 1e-9)
	assert.Equal(t, social.TikTok, rep.TopPosts[0].Platform)
}

func TestSaveCredentialsRejectsUnknownPlatform(t *testing.T) {
	env := newTestEnv(t)
	svc := newSocial(t, env, &fakePublisher{}, nil)
	err := svc.SaveCredentials(context.Background(), "myspace", CredentialsRequest{AccessToken: "x", Endpoint: "https://x"})
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}
