package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/autoposter/internal/logging"
	"github.com/mohammad-safakhou/autoposter/internal/news"
	"github.com/mohammad-safakhou/autoposter/internal/telemetry"
	"github.com/mohammad-safakhou/autoposter/internal/trace"
)

// Collector runs the tool-calling loop that gathers news for a topic.
type Collector struct {
	model         Model
	tools         ToolRunner
	tele          *telemetry.Telemetry
	logger        logging.Logger
	maxIterations int
	minItems      int
	maxItems      int
}

func NewCollector(model Model, tools ToolRunner, tele *telemetry.Telemetry, logger logging.Logger, maxIterations, minItems, maxItems int) *Collector {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Collector{
		model:         model,
		tools:         tools,
		tele:          tele,
		logger:        logger,
		maxIterations: maxIterations,
		minItems:      minItems,
		maxItems:      maxItems,
	}
}

func topicDisplay(topic string) string {
	return preview(topic, 200)
}

func gatherPrompt(topic string) string {
	return fmt.Sprintf(`Research and gather comprehensive news content about: %s

You have access to news tools. Call them strategically to gather diverse, relevant content.
Keep calling tools until you have enough quality content (at least 5-10 items from different sources).
Use dig_deeper_topic for deep research, fetch_reddit for Reddit posts, fetch_gnews for news articles.`, topic)
}

func continuePrompt(topic string, count int) string {
	return fmt.Sprintf(`You've gathered %d items so far about: %s
Continue gathering more diverse content. Aim for at least 5-10 quality items.`, count, topicDisplay(topic))
}

// Collect calls the tool model at most maxIterations times and stops as
// soon as minItems items are gathered. Model errors consume an iteration;
// tool errors contribute nothing. Context cancellation aborts the loop.
func (c *Collector) Collect(ctx context.Context, topic string, summary *RunSummary) (CollectedContent, error) {
	var content CollectedContent
	rec := trace.FromContext(ctx)
	catalog := c.tools.Catalog()
	prompt := gatherPrompt(topic)
	if summary != nil {
		summary.Topic = topic
	}

	for iteration := 0; iteration < c.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return content, err
		}
		log := c.logger.WithFields(logging.Fields{"iteration": iteration + 1, "items": len(content.Items)})
		log.Info("gathering news")
		if summary != nil {
			summary.Iterations = iteration + 1
		}

		resp, err := c.model.CallTools(ctx, stepGather, prompt, catalog)
		if err != nil {
			log.WithError(err).Warn("tool model call failed")
		} else {
			for _, call := range resp.ToolCalls {
				c.invoke(ctx, rec, call.Name, call.Arguments, &content, summary)
			}
		}

		if len(content.Items) >= c.minItems {
			log.WithField("items", len(content.Items)).Info("collected enough content")
			break
		}
		prompt = continuePrompt(topic, len(content.Items))
	}

	content.finalize(c.maxItems)
	if summary != nil {
		summary.ItemsCollected = len(content.Items)
	}
	return content, nil
}

func (c *Collector) invoke(ctx context.Context, rec *trace.Recorder, name, rawArgs string, content *CollectedContent, summary *RunSummary) {
	args := json.RawMessage(rawArgs)
	if !json.Valid(args) {
		args = json.RawMessage("{}")
	}
	res, err := c.tools.Invoke(ctx, name, args)
	if errors.Is(err, news.ErrUnknownTool) {
		c.logger.WithField("tool", name).Warn("model requested unknown tool")
		return
	}
	c.tele.RecordToolCall(name, err == nil)
	inv := ToolInvocation{Name: name, Arguments: string(args)}
	if err != nil {
		c.logger.WithError(err).WithField("tool", name).Warn("tool failed")
		rec.RecordActionError(stepGather, name, string(args), err)
		inv.Err = err.Error()
	} else {
		inv.Items = content.add(res)
		rec.RecordAction(stepGather, name, string(args), fmt.Sprintf("%d items", inv.Items))
	}
	if summary != nil {
		summary.ToolCalls = append(summary.ToolCalls, inv)
	}
}
