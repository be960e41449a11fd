// Package content はコンテンツリクエストの状態遷移エンジンを提供する。
// statusを書き換える唯一の経路であり、遷移表に無い遷移と競合した書き込みを拒否する。
package content

import "github.com/hitoshi/contentforge/internal/model"

// transitions は許可された遷移の一覧。expiredへの遷移はスイープ専用。
var transitions = map[model.Status][]model.Status{
	model.StatusQueued:          {model.StatusTranscribing},
	model.StatusTranscribing:    {model.StatusGenerating},
	model.StatusGenerating:      {model.StatusGenerated, model.StatusError},
	model.StatusGenerated:       {model.StatusPendingApproval, model.StatusExpired},
	model.StatusPendingApproval: {model.StatusApproved, model.StatusRejected, model.StatusExpired},
	model.StatusApproved:        {model.StatusPublishing, model.StatusExpired},
	model.StatusPublishing:      {model.StatusPublished, model.StatusExpired},
}

// CanTransition はfromからtoへの遷移が遷移表に存在するかを返す。
func CanTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidNextStates はfromから遷移可能な状態の一覧を返す。
func ValidNextStates(from model.Status) []model.Status {
	next := transitions[from]
	out := make([]model.Status, len(next))
	copy(out, next)
	return out
}

// Expirable は期限切れスイープの対象になり得る状態の一覧を返す。
func Expirable() []model.Status {
	return []model.Status{
		model.StatusGenerated,
		model.StatusPendingApproval,
		model.StatusApproved,
		model.StatusPublishing,
	}
}

// stageMessages は各状態に入ったときにライブステータスへ流すメッセージ。
var stageMessages = map[model.Status]string{
	model.StatusQueued:          "Request queued.",
	model.StatusTranscribing:    "Fetching transcript...",
	model.StatusGenerating:      "Generating content...",
	model.StatusGenerated:       "Content generated.",
	model.StatusPendingApproval: "Approval email sent. Waiting for your decision.",
	model.StatusApproved:        "Approved. Add handles and publish from the dashboard.",
	model.StatusRejected:        "Rejected. You can generate again from the dashboard.",
	model.StatusPublishing:      "Publishing...",
	model.StatusPublished:       "Published successfully.",
	model.StatusExpired:         "Request expired (24h). Please generate again.",
	model.StatusError:           "Generation failed.",
}

// StageMessage は状態に対応する既定メッセージを返す。
func StageMessage(s model.Status) string {
	if msg, ok := stageMessages[s]; ok {
		return msg
	}
	return string(s)
}
