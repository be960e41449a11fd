package model

import "time"

// Status はコンテンツリクエストのライフサイクル状態を表す。
type Status string

const (
	StatusQueued          Status = "queued"
	StatusTranscribing    Status = "transcribing"
	StatusGenerating      Status = "generating"
	StatusGenerated       Status = "generated"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusPublishing      Status = "publishing"
	StatusPublished       Status = "published"
	StatusExpired         Status = "expired"
	StatusError           Status = "error"
)

// ApprovalTTL は生成完了から承認期限までの時間。
const ApprovalTTL = 24 * time.Hour

// IsTerminal は状態が終端（以降の遷移なし）かどうかを返す。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPublished, StatusRejected, StatusExpired, StatusError:
		return true
	default:
		return false
	}
}

// Handles は公開先プラットフォームごとのハンドル名。
type Handles struct {
	DevTo    string `json:"devto,omitempty"`
	X        string `json:"x,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
}

// 公開結果のキー。
const (
	ResultBlog     = "blog"
	ResultTweet    = "tweet"
	ResultLinkedIn = "linkedin"
)

// PublishResult は1プラットフォームへの（シミュレートされた）公開結果。
type PublishResult struct {
	Platform    string    `json:"platform"`
	Handle      string    `json:"handle"`
	URL         string    `json:"url"`
	Published   bool      `json:"published"`
	PublishedAt time.Time `json:"publishedAt"`
}

// ContentRequest は1件のコンテンツ生成リクエストの永続レコード。
// statusの書き換えは遷移エンジン経由でのみ行う。
type ContentRequest struct {
	RequestID string `json:"requestId"`
	UserEmail string `json:"userEmail"`
	SourceURL string `json:"sourceUrl"`

	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`

	Transcript       string `json:"transcript,omitempty"`
	BlogPost         string `json:"blogPost,omitempty"`
	ShortPost        string `json:"shortPost,omitempty"`
	ProfessionalPost string `json:"professionalPost,omitempty"`

	Status  Status                   `json:"status"`
	Handles *Handles                 `json:"handles,omitempty"`
	Results map[string]PublishResult `json:"results,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	DecidedAt   *time.Time `json:"decidedAt,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	ExpiredAt   *time.Time `json:"expiredAt,omitempty"`

	Error string `json:"error,omitempty"`
}

// HasArtifacts は3種類の生成物がすべて揃っているかを返す。
func (r *ContentRequest) HasArtifacts() bool {
	return r.BlogPost != "" && r.ShortPost != "" && r.ProfessionalPost != ""
}

// IsExpiredAt はnow時点で承認期限を過ぎているかを返す。
// expiresAtが未設定の場合は期限切れにならない。
func (r *ContentRequest) IsExpiredAt(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Clone はポインタとマップを含めたディープコピーを返す。
func (r *ContentRequest) Clone() *ContentRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.Handles != nil {
		h := *r.Handles
		c.Handles = &h
	}
	if r.Results != nil {
		c.Results = make(map[string]PublishResult, len(r.Results))
		for k, v := range r.Results {
			c.Results[k] = v
		}
	}
	c.ExpiresAt = cloneTime(r.ExpiresAt)
	c.DecidedAt = cloneTime(r.DecidedAt)
	c.PublishedAt = cloneTime(r.PublishedAt)
	c.ExpiredAt = cloneTime(r.ExpiredAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StatusEvent はライブステータスストリームに流す最新状態。
// リクエストごとに1件のみ保持し、後勝ちで上書きされる。
type StatusEvent struct {
	RequestID string    `json:"requestId"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	TS        time.Time `json:"ts"`
}
