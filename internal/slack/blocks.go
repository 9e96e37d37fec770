package slack

import (
	slackapi "github.com/slack-go/slack"
)

// MaxBlocksPerMessage is the platform cap; anything past it must go into
// thread continuations.
const MaxBlocksPerMessage = 50

func HeaderBlock(text string) slackapi.Block {
	return slackapi.NewHeaderBlock(slackapi.NewTextBlockObject(slackapi.PlainTextType, text, true, false))
}

func SectionBlock(mrkdwn string) slackapi.Block {
	return slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, mrkdwn, false, false), nil, nil)
}

// FieldsBlock renders up to ten short mrkdwn fields in two columns.
func FieldsBlock(fields []string) slackapi.Block {
	objs := make([]*slackapi.TextBlockObject, 0, len(fields))
	for _, f := range fields {
		objs = append(objs, slackapi.NewTextBlockObject(slackapi.MarkdownType, f, false, false))
	}
	return slackapi.NewSectionBlock(nil, objs, nil)
}

func ContextBlock(mrkdwn string) slackapi.Block {
	return slackapi.NewContextBlock("", slackapi.NewTextBlockObject(slackapi.MarkdownType, mrkdwn, false, false))
}

func DividerBlock() slackapi.Block {
	return slackapi.NewDividerBlock()
}

// ImageByFileBlock references an already-uploaded file by ID.
func ImageByFileBlock(fileID, altText string) slackapi.Block {
	return &slackapi.ImageBlock{
		Type:      slackapi.MBTImage,
		AltText:   altText,
		SlackFile: &slackapi.SlackFileObject{ID: fileID},
	}
}

// SplitBlocks partitions blocks into a root message slice and zero or more
// threaded continuation slices, each within the per-message cap.
func SplitBlocks(blocks []slackapi.Block) (root []slackapi.Block, continuations [][]slackapi.Block) {
	if len(blocks) <= MaxBlocksPerMessage {
		return blocks, nil
	}

	root = blocks[:MaxBlocksPerMessage]
	rest := blocks[MaxBlocksPerMessage:]
	for len(rest) > 0 {
		n := len(rest)
		if n > MaxBlocksPerMessage {
			n = MaxBlocksPerMessage
		}
		continuations = append(continuations, rest[:n])
		rest = rest[n:]
	}
	return root, continuations
}
