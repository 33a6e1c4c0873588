// Package otahun implements a Discord chat bot that forwards user messages
// to an OpenAI-compatible chat completion endpoint and relays the response
// back into the originating channel.
//
// The interesting part of the bot is the per-conversation bookkeeping that
// sits between the Discord gateway and the completion endpoint:
//
//   - TriggerEvaluator: decides whether an incoming message warrants a
//     response (mention, reply-to-bot, per-channel active mode, or keyword).
//   - UserRateLimiter: a sliding one-minute admission window per user.
//   - ContextStore: an in-memory, size-bounded record of recent conversation
//     turns, keyed by channel (or channel+user), with LRU eviction of idle
//     conversations.
//   - Composer: assembles the ordered prompt from stored turns, reply
//     context, attachments and the current message.
//   - Dispatcher: chunks the model's reply to fit Discord's message size
//     limit and delivers it.
//
// Everything else (gateway wiring, the completion HTTP call, the liveness
// endpoint) is thin plumbing over external services. Conversation state is
// held in memory only and is lost on restart.
package otahun
