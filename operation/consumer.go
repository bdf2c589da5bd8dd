package operation

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	dbconf "github.com/kthomas/go-db-config"
	natsutil "github.com/kthomas/go-natsutil"
	uuid "github.com/kthomas/go.uuid"
	"github.com/nats-io/nats.go"
	"github.com/provideplatform/issuance/common"
)

const defaultNatsStream = "issuance"

const natsOperationPendingSubject = "issuance.operation.pending"
const operationPendingAckWait = time.Minute * 10
const operationPendingMaxInFlight = 64
const operationPendingMaxDeliveries = 5

func init() {
	if !common.ConsumeNATSStreamingSubscriptions {
		common.Log.Debug("operation package consumer configured to skip NATS streaming subscription setup")
		return
	}

	natsutil.EstablishSharedNatsConnection(nil)
	natsutil.NatsCreateStream(defaultNatsStream, []string{
		fmt.Sprintf("%s.>", defaultNatsStream),
	})

	var waitGroup sync.WaitGroup

	createNatsOperationPendingSubscriptions(&waitGroup)
}

func createNatsOperationPendingSubscriptions(wg *sync.WaitGroup) {
	for i := uint64(0); i < natsutil.GetNatsConsumerConcurrency(); i++ {
		natsutil.RequireNatsJetstreamSubscription(wg,
			operationPendingAckWait,
			natsOperationPendingSubject,
			natsOperationPendingSubject,
			natsOperationPendingSubject,
			consumeOperationPendingMsg,
			operationPendingAckWait,
			operationPendingMaxInFlight,
			operationPendingMaxDeliveries,
			nil,
		)
	}
}

// dispatchOperation enqueues the given operation for (re)execution
func dispatchOperation(op *Operation) {
	payload, _ := json.Marshal(map[string]interface{}{
		"operation_id": op.ID.String(),
	})

	_, err := natsutil.NatsJetstreamPublish(natsOperationPendingSubject, payload)
	if err != nil {
		common.Log.Warningf("failed to dispatch operation %s for execution; %s", op.ID, err.Error())
	}
}

func consumeOperationPendingMsg(msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			common.Log.Warningf("recovered during operation execution; %s", r)
			msg.Nak()
		}
	}()

	common.Log.Debugf("consuming %d-byte NATS pending operation message on subject: %s", len(msg.Data), msg.Subject)

	params := map[string]interface{}{}
	err := json.Unmarshal(msg.Data, &params)
	if err != nil {
		common.Log.Warningf("failed to unmarshal pending operation message; %s", err.Error())
		msg.Nak()
		return
	}

	operationID, operationIDOk := params["operation_id"].(string)
	if !operationIDOk {
		common.Log.Warning("failed to unmarshal operation_id during pending operation message handler")
		msg.Nak()
		return
	}

	id, err := uuid.FromString(operationID)
	if err != nil {
		common.Log.Warningf("failed to parse operation id during pending operation message handler; %s", err.Error())
		msg.Nak()
		return
	}

	db := dbconf.DatabaseConnection()

	op := Find(db, id)
	if op == nil {
		common.Log.Warningf("failed to resolve operation during async execution; operation id: %s", operationID)
		msg.Nak()
		return
	}

	err = ExecuteOperation(db, op)
	if err != nil {
		common.Log.Warningf("execution failed for operation %s; %s", op.ID, err.Error())
		msg.Nak()
		return
	}

	msg.Ack()
}
