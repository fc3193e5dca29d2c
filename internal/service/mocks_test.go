package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"chanrelay/internal/models"
	"chanrelay/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeStore is an in-memory ConfigStore.
type fakeStore struct {
	mu           sync.Mutex
	users        map[int64]models.User
	sources      map[int64][]models.SourceChannel
	destinations map[int64]*models.Destination
	sessions     map[int64]*models.Session
	banned       map[int64]models.BanRecord
	forwardCount int64

	sourcesErr error
	destErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[int64]models.User),
		sources:      make(map[int64][]models.SourceChannel),
		destinations: make(map[int64]*models.Destination),
		sessions:     make(map[int64]*models.Session),
		banned:       make(map[int64]models.BanRecord),
	}
}

func (s *fakeStore) AddUser(ctx context.Context, userID int64, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; ok {
		return false, nil
	}
	s.users[userID] = models.User{ID: userID, Username: username, CreatedAt: time.Now()}
	return true, nil
}

func (s *fakeStore) GetAllUsers(ctx context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	return users, nil
}

func (s *fakeStore) GetUserCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.users)), nil
}

func (s *fakeStore) AddSourceChannel(ctx context.Context, userID int64, channelID, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.sources[userID] {
		if sc.ChannelID == channelID {
			return false, nil
		}
	}
	s.sources[userID] = append(s.sources[userID], models.SourceChannel{
		UserID: userID, ChannelID: channelID, Title: title, Mode: models.ForwardModeCopy,
	})
	return true, nil
}

func (s *fakeStore) RemoveSourceChannel(ctx context.Context, userID int64, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.sources[userID]
	for i, sc := range list {
		if sc.ChannelID == channelID {
			s.sources[userID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) GetUserSources(ctx context.Context, userID int64) ([]models.SourceChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sourcesErr != nil {
		return nil, s.sourcesErr
	}
	return append([]models.SourceChannel(nil), s.sources[userID]...), nil
}

func (s *fakeStore) SetForwardMode(ctx context.Context, userID int64, channelID string, mode models.ForwardMode) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sc := range s.sources[userID] {
		if sc.ChannelID == channelID {
			s.sources[userID][i].Mode = mode
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) SetUserDestination(ctx context.Context, userID int64, channelID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destinations[userID] = &models.Destination{UserID: userID, ChannelID: channelID, Title: title}
	return nil
}

func (s *fakeStore) GetUserDestination(ctx context.Context, userID int64) (*models.Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destErr != nil {
		return nil, s.destErr
	}
	return s.destinations[userID], nil
}

func (s *fakeStore) SaveSession(ctx context.Context, userID int64, sessionString, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = &models.Session{UserID: userID, SessionString: sessionString, Phone: phone, CreatedAt: time.Now()}
	return nil
}

func (s *fakeStore) GetSession(ctx context.Context, userID int64) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[userID], nil
}

func (s *fakeStore) DeleteSession(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

func (s *fakeStore) BanUser(ctx context.Context, userID int64, username, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.banned[userID]; ok {
		return false, nil
	}
	s.banned[userID] = models.BanRecord{UserID: userID, Username: username, Reason: reason, BannedAt: time.Now()}
	return true, nil
}

func (s *fakeStore) UnbanUser(ctx context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.banned[userID]; !ok {
		return false, nil
	}
	delete(s.banned, userID)
	return true, nil
}

func (s *fakeStore) IsUserBanned(ctx context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.banned[userID]
	return ok, nil
}

func (s *fakeStore) GetBannedUsers(ctx context.Context) ([]models.BanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	banned := make([]models.BanRecord, 0, len(s.banned))
	for _, b := range s.banned {
		banned = append(banned, b)
	}
	return banned, nil
}

func (s *fakeStore) IncrementForwardCount(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwardCount++
	return nil
}

func (s *fakeStore) GetStats(ctx context.Context) (*models.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &models.Stats{
		TotalUsers:    int64(len(s.users)),
		BannedUsers:   int64(len(s.banned)),
		TotalForwards: s.forwardCount,
	}, nil
}

func (s *fakeStore) ForwardCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forwardCount
}

// fakeClient is a scriptable gateway client.
type fakeClient struct {
	mu sync.Mutex

	connected bool

	sentTexts     []string
	sentPeers     []string
	forwards      []string
	uploads       []string
	mediaRefSends int
	reconnects    int
	closed        bool

	downloadFailures int // fail this many download attempts before succeeding
	downloadCalls    int
	uploadFailures   int
	uploadCalls      int
	forwardErr       error
	sendTextErr      error
	sendMediaRefErr  error
	thumbErr         error

	joined   []types.ChannelInfo
	leftIDs  []string
	leaveErr error

	events chan types.InboundEvent
}

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true}
}

func (c *fakeClient) StreamEvents(ctx context.Context) (<-chan types.InboundEvent, error) {
	c.mu.Lock()
	if c.events == nil {
		c.events = make(chan types.InboundEvent)
	}
	in := c.events
	c.mu.Unlock()

	out := make(chan types.InboundEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Emit pushes an event into the stream opened by StreamEvents.
func (c *fakeClient) Emit(ev types.InboundEvent) {
	c.mu.Lock()
	if c.events == nil {
		c.events = make(chan types.InboundEvent)
	}
	in := c.events
	c.mu.Unlock()
	in <- ev
}

func (c *fakeClient) DownloadMedia(ctx context.Context, ref models.MessageRef, destPath string, progress types.ProgressFunc) (string, error) {
	c.mu.Lock()
	c.downloadCalls++
	fail := c.downloadCalls <= c.downloadFailures
	c.mu.Unlock()

	if fail {
		return "", types.NewTransferError("download", fmt.Errorf("timed out"))
	}
	if err := os.WriteFile(destPath, []byte("media"), 0600); err != nil {
		return "", err
	}
	return destPath, nil
}

func (c *fakeClient) DownloadThumbnail(ctx context.Context, ref models.MessageRef, destPath string) (string, error) {
	if c.thumbErr != nil {
		return "", c.thumbErr
	}
	if err := os.WriteFile(destPath, []byte("thumb"), 0600); err != nil {
		return "", err
	}
	return destPath, nil
}

func (c *fakeClient) UploadFile(ctx context.Context, channelID, path, caption string, attrs models.UploadAttributes, thumbPath string, progress types.ProgressFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploadCalls++
	if c.uploadCalls <= c.uploadFailures {
		return types.NewTransferError("upload", fmt.Errorf("connection reset"))
	}
	c.uploads = append(c.uploads, channelID)
	return nil
}

func (c *fakeClient) ForwardMessage(ctx context.Context, destChannelID string, ref models.MessageRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forwardErr != nil {
		return c.forwardErr
	}
	c.forwards = append(c.forwards, destChannelID)
	return nil
}

func (c *fakeClient) SendText(ctx context.Context, peerID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendTextErr != nil {
		return c.sendTextErr
	}
	c.sentPeers = append(c.sentPeers, peerID)
	c.sentTexts = append(c.sentTexts, text)
	return nil
}

func (c *fakeClient) SendMediaRef(ctx context.Context, channelID, text string, ref models.MessageRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendMediaRefErr != nil {
		return c.sendMediaRefErr
	}
	c.mediaRefSends++
	return nil
}

func (c *fakeClient) ListJoinedChannels(ctx context.Context) ([]types.ChannelInfo, error) {
	return c.joined, nil
}

func (c *fakeClient) LeaveChannel(ctx context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leaveErr != nil {
		return c.leaveErr
	}
	c.leftIDs = append(c.leftIDs, channelID)
	return nil
}

func (c *fakeClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
	c.connected = true
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) SentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sentTexts...)
}

func (c *fakeClient) Forwards() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.forwards...)
}

func (c *fakeClient) Uploads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.uploads...)
}

// fakeAuthenticator scripts the login flow.
type fakeAuthenticator struct {
	codeHash      string
	signInErr     error
	passwordErr   error
	sessionString string
}

func (a *fakeAuthenticator) RequestCode(ctx context.Context, phone string) (string, error) {
	return a.codeHash, nil
}

func (a *fakeAuthenticator) SignIn(ctx context.Context, phone, code, codeHash string) (string, error) {
	if a.signInErr != nil {
		return "", a.signInErr
	}
	return a.sessionString, nil
}

func (a *fakeAuthenticator) SignInPassword(ctx context.Context, password string) (string, error) {
	if a.passwordErr != nil {
		return "", a.passwordErr
	}
	return a.sessionString, nil
}

// fakeFactory hands out scripted clients.
type fakeFactory struct {
	client     *fakeClient
	auth       *fakeAuthenticator
	sessionErr error

	mu             sync.Mutex
	sessionUserIDs []int64
}

func (f *fakeFactory) NewSessionClient(ctx context.Context, userID int64, sessionString string) (types.Client, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	f.mu.Lock()
	f.sessionUserIDs = append(f.sessionUserIDs, userID)
	f.mu.Unlock()
	return f.client, nil
}

func (f *fakeFactory) SessionUserIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.sessionUserIDs...)
}

func (f *fakeFactory) NewLoginClient(ctx context.Context) (types.Client, types.Authenticator, error) {
	return f.client, f.auth, nil
}

// staticProvider returns one client for every user.
type staticProvider struct {
	client types.Client
	err    error
}

func (p *staticProvider) ClientFor(userID int64) (types.Client, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.client, nil
}

// recordingExecutor records executor invocations in order.
type recordingExecutor struct {
	mu      sync.Mutex
	jobs    []*models.TransferJob
	inUse   map[int64]bool
	overlap bool

	delay  time.Duration
	err    error
	panics bool
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{inUse: make(map[int64]bool)}
}

func (e *recordingExecutor) Execute(ctx context.Context, job *models.TransferJob) error {
	e.mu.Lock()
	if e.inUse[job.UserID] {
		e.overlap = true
	}
	e.inUse[job.UserID] = true
	e.jobs = append(e.jobs, job)
	e.mu.Unlock()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	e.mu.Lock()
	e.inUse[job.UserID] = false
	e.mu.Unlock()

	if e.panics {
		panic("executor blew up")
	}
	return e.err
}

func (e *recordingExecutor) Jobs() []*models.TransferJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*models.TransferJob(nil), e.jobs...)
}

func (e *recordingExecutor) Overlapped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overlap
}
