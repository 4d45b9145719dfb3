package phase

import (
	"time"

	"github.com/ski11z/autoboom/pkg/control"
	"github.com/ski11z/autoboom/pkg/gateway"
	"github.com/ski11z/autoboom/pkg/model"
)

// RunDownload waits for the produced items to show up as completed remotely,
// then fetches each one. A failed download leaves its item as it was.
func RunDownload(j *Job) error {
	l, kind := videos, gateway.KindVideo
	if j.Project.Mode == model.ModeCreateImage {
		l, kind = images, gateway.KindImage
	}

	j.Update(func(p *model.JobProgress) {
		p.Phase = model.PhaseDownload
	})

	want, _ := model.Counts(j.items(l))
	if want == 0 {
		j.log.Info("download_skipped", "reason", "nothing produced")
		return nil
	}

	completed, err := j.pollCompleted(kind, want)
	if err != nil {
		return err
	}

	downloaded := 0
	for _, item := range completed {
		if err := j.Token.Checkpoint(); err != nil {
			return err
		}
		items := j.items(l)
		if item.Index < 0 || item.Index >= len(items) {
			j.log.Warn("download_unknown_item", "remote_id", item.ID, "index", item.Index)
			continue
		}
		if st := items[item.Index].Status; st == model.ItemDownloaded || !st.Done() {
			continue
		}
		if j.download(l, item) {
			downloaded++
		}
	}
	j.log.Info("download_phase_done", "downloaded", downloaded, "completed", len(completed), "expected", want)
	return nil
}

// pollCompleted lists completed items until want are present or the wait
// bound elapses, returning whatever was seen last.
func (j *Job) pollCompleted(kind gateway.Kind, want int) ([]gateway.RemoteItem, error) {
	start := time.Now()
	var last []gateway.RemoteItem
	for {
		if err := j.Token.Checkpoint(); err != nil {
			return nil, err
		}
		items, err := j.remote.ListCompleted(j.Token.Context(), kind)
		switch {
		case err != nil && (j.Token.Aborted() || control.IsAborted(err)):
			return nil, control.ErrAborted
		case err != nil:
			j.log.Warn("download_poll_failed", "error", err)
		default:
			last = items
			if len(items) >= want {
				return items, nil
			}
		}

		if time.Since(start) >= j.opts.RenderMaxWait {
			j.log.Warn("download_wait_elapsed", "completed", len(last), "expected", want)
			return last, nil
		}
		if err := j.Token.Sleep(j.opts.RenderPoll); err != nil {
			return nil, err
		}
	}
}

func (j *Job) download(l list, item gateway.RemoteItem) bool {
	ctx := j.Token.Context()
	dl, err := j.remote.Download(ctx, item)
	if err != nil {
		j.log.Warn("download_failed", "index", item.Index, "remote_id", item.ID, "error", err)
		return false
	}

	path := dl.Path
	if j.validator != nil {
		path, err = j.validator.Check(dl.Path, dl.Size)
		if err != nil {
			j.log.Warn("download_rejected", "index", item.Index, "path", dl.Path, "error", err)
			return false
		}
	}

	if j.archiver != nil {
		key, err := j.archiver.Archive(ctx, j.Project.Name, path)
		if err != nil {
			j.log.Warn("archive_failed", "index", item.Index, "path", path, "error", err)
		} else {
			j.log.Info("archived", "index", item.Index, "key", key)
		}
	}

	j.Update(func(p *model.JobProgress) {
		r := &l.of(p)[item.Index]
		r.LocalPath = path
		r.Advance(model.ItemDownloaded)
	})
	return true
}
